package demand_test

import (
	"math/rand"
	"testing"

	"github.com/kumanofoo/tako/internal/demand"
	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/model"
)

func newModel(seed int64) *demand.Model {
	return demand.New(demand.DefaultBaselines(), rand.New(rand.NewSource(seed)))
}

func TestExpected_Categories(t *testing.T) {
	m := newModel(1)

	cases := []struct {
		category string
		want     int64
	}{
		{forecast.Sunny, 500},
		{forecast.Cloudy, 300},
		{forecast.Rainy, 100},
		{forecast.Snowy, 100},
		{"", 300},        // missing → cloudy
		{"typhoon", 300}, // unknown → cloudy
	}
	for _, c := range cases {
		got := m.Expected(model.Forecast{Category: c.category})
		if got != c.want {
			t.Errorf("Expected(%q) = %d, want %d", c.category, got, c.want)
		}
	}
}

func TestActual_WithinBounds(t *testing.T) {
	m := newModel(42)
	f := model.Forecast{Category: forecast.Sunny}

	for i := 0; i < 1000; i++ {
		actual := m.Actual(f)
		if actual < 400 || actual > 600 {
			t.Fatalf("draw %d: actual %d outside ±20%% of 500", i, actual)
		}
	}
}

func TestActual_Reproducible(t *testing.T) {
	f := model.Forecast{Category: forecast.Rainy}

	m1 := newModel(7)
	m2 := newModel(7)
	for i := 0; i < 100; i++ {
		a, b := m1.Actual(f), m2.Actual(f)
		if a != b {
			t.Fatalf("draw %d: same seed gave %d and %d", i, a, b)
		}
	}
}

func TestActual_DifferentSeedsDiverge(t *testing.T) {
	f := model.Forecast{Category: forecast.Sunny}

	m1 := newModel(1)
	m2 := newModel(2)
	same := true
	for i := 0; i < 20; i++ {
		if m1.Actual(f) != m2.Actual(f) {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical sequences")
	}
}

func TestActual_ZeroBaseline(t *testing.T) {
	m := demand.New(demand.Baselines{}, rand.New(rand.NewSource(1)))
	if got := m.Actual(model.Forecast{Category: forecast.Sunny}); got != 0 {
		t.Errorf("Actual with zero baseline = %d, want 0", got)
	}
}
