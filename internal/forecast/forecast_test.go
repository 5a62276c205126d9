package forecast_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/model"
)

func TestFallback_PassesThroughValid(t *testing.T) {
	f := model.Forecast{Category: forecast.Sunny, Summary: "clear"}
	got := forecast.Fallback(f, nil, time.Now())
	if got.Category != forecast.Sunny {
		t.Errorf("category = %s, want sunny", got.Category)
	}
}

func TestFallback_OnError(t *testing.T) {
	now := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	got := forecast.Fallback(model.Forecast{}, forecast.ErrUnavailable, now)
	if got.Category != forecast.FallbackCategory {
		t.Errorf("category = %s, want %s", got.Category, forecast.FallbackCategory)
	}
	if !got.ReportedAt.Equal(now) {
		t.Errorf("reported_at = %v, want %v", got.ReportedAt, now)
	}
}

func TestFallback_OnMalformedCategory(t *testing.T) {
	got := forecast.Fallback(model.Forecast{Category: "volcanic"}, nil, time.Now())
	if got.Category != forecast.FallbackCategory {
		t.Errorf("category = %s, want %s", got.Category, forecast.FallbackCategory)
	}
}

func TestHTTPProvider_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("place") != "Osaka" {
			t.Errorf("place = %s, want Osaka", r.URL.Query().Get("place"))
		}
		if r.URL.Query().Get("date") != "2026-08-29" {
			t.Errorf("date = %s, want 2026-08-29", r.URL.Query().Get("date"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"category": "rainy",
			"summary": "heavy rain in the afternoon",
			"reported_at": "2026-08-28T23:00:00Z",
			"pops": [{"time": "06", "percent": 40}, {"time": "12", "percent": 80}]
		}`))
	}))
	defer srv.Close()

	p := forecast.NewHTTPProvider(srv.URL, time.Second)
	f, err := p.Fetch(context.Background(), "Osaka", "2026-08-29")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if f.Category != forecast.Rainy {
		t.Errorf("category = %s, want rainy", f.Category)
	}
	if len(f.Pops) != 2 || f.Pops[1].Percent != 80 {
		t.Errorf("unexpected pops: %+v", f.Pops)
	}
	if f.ReportedAt.IsZero() {
		t.Error("expected parsed reported_at")
	}
}

func TestHTTPProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := forecast.NewHTTPProvider(srv.URL, time.Second)
	_, err := p.Fetch(context.Background(), "Kyoto", "2026-08-29")
	if !errors.Is(err, forecast.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPProvider_UnknownCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"category": "hail", "summary": ""}`))
	}))
	defer srv.Close()

	p := forecast.NewHTTPProvider(srv.URL, time.Second)
	_, err := p.Fetch(context.Background(), "Kobe", "2026-08-29")
	if !errors.Is(err, forecast.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}
