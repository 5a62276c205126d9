// Package forecast defines the weather-forecast boundary. Forecast lookup is
// best effort: any failure degrades to a documented default category instead
// of failing the round.
package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/kumanofoo/tako/internal/model"
)

// Weather categories recognized by the demand model.
const (
	Sunny  = "sunny"
	Cloudy = "cloudy"
	Rainy  = "rainy"
	Snowy  = "snowy"
)

// FallbackCategory is used whenever a forecast is missing or malformed.
const FallbackCategory = Cloudy

// ErrUnavailable is returned when the forecast service cannot produce a
// usable forecast. Callers recover via Fallback rather than failing rounds.
var ErrUnavailable = errors.New("forecast: unavailable")

// Provider fetches a forecast for a place and market-local date.
type Provider interface {
	Fetch(ctx context.Context, place, date string) (model.Forecast, error)
}

// Valid reports whether category is one the demand model understands.
func Valid(category string) bool {
	switch category {
	case Sunny, Cloudy, Rainy, Snowy:
		return true
	}
	return false
}

// Fallback resolves a fetch result to a usable snapshot. Malformed or missing
// forecasts become the fallback category; the error is consumed here.
func Fallback(f model.Forecast, err error, now time.Time) model.Forecast {
	if err != nil || !Valid(f.Category) {
		return model.Forecast{
			Category:   FallbackCategory,
			Summary:    "forecast unavailable",
			ReportedAt: now,
		}
	}
	return f
}

// Static always returns the same forecast. Used in tests and offline runs.
type Static struct {
	Forecast model.Forecast
	Err      error
}

func (s Static) Fetch(_ context.Context, _, _ string) (model.Forecast, error) {
	return s.Forecast, s.Err
}
