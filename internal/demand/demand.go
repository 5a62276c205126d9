// Package demand maps a weather forecast to the day's sellable quantity.
// Expected is deterministic for display; Actual adds a reproducible random
// perturbation for settlement. The random source is injected so settlement
// outcomes can be replayed in tests.
package demand

import (
	"math/rand"
	"sync"

	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/model"
)

// Baselines holds the expected unit count per weather category.
type Baselines struct {
	Sunny  int64
	Cloudy int64
	Rainy  int64
	Snowy  int64
}

// DefaultBaselines mirrors the classic market: a sunny day moves ~500 units,
// cloudy 300, rain or snow 100.
func DefaultBaselines() Baselines {
	return Baselines{Sunny: 500, Cloudy: 300, Rainy: 100, Snowy: 100}
}

// perturbation is the maximum relative deviation of actual from expected.
const perturbation = 0.2

// Model turns forecasts into quantities.
type Model struct {
	baselines Baselines

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a demand model with the given baselines and random source.
func New(b Baselines, rng *rand.Rand) *Model {
	return &Model{baselines: b, rng: rng}
}

// Expected returns the deterministic baseline for the forecast category.
// Unknown or missing categories fall back to cloudy.
func (m *Model) Expected(f model.Forecast) int64 {
	switch f.Category {
	case forecast.Sunny:
		return m.baselines.Sunny
	case forecast.Rainy:
		return m.baselines.Rainy
	case forecast.Snowy:
		return m.baselines.Snowy
	default:
		return m.baselines.Cloudy
	}
}

// Actual draws the day's realized demand: the baseline perturbed by up to
// ±20%, never below zero. One draw per call.
func (m *Model) Actual(f model.Forecast) int64 {
	base := m.Expected(f)

	m.mu.Lock()
	factor := 1 + (m.rng.Float64()*2-1)*perturbation
	m.mu.Unlock()

	actual := int64(float64(base) * factor)
	if actual < 0 {
		actual = 0
	}
	return actual
}
