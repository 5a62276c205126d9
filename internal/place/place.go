// Package place picks the market place for a round from a fixed roster of
// weather-station towns. Selection is random but driven by an injected
// source, keeping scheduling reproducible in tests.
package place

import (
	"math/rand"
	"sync"
)

// roster lists the towns the market rotates through. The names double as the
// place keys sent to the forecast service.
var roster = []string{
	"Sapporo", "Obihiro", "Aomori", "Sendai", "Yamagata",
	"Tokyo", "Yokohama", "Niigata", "Kanazawa", "Nagano",
	"Nagoya", "Kyoto", "Osaka", "Kobe", "Hiroshima",
	"Matsuyama", "Kochi", "Fukuoka", "Kumamoto", "Naha",
}

// Picker selects places for upcoming rounds.
type Picker struct {
	mu    sync.Mutex
	rng   *rand.Rand
	names []string
}

// NewPicker creates a picker over the default roster.
func NewPicker(rng *rand.Rand) *Picker {
	return &Picker{rng: rng, names: roster}
}

// NewPickerWithRoster creates a picker over a custom roster. Used in tests.
func NewPickerWithRoster(rng *rand.Rand, names []string) *Picker {
	return &Picker{rng: rng, names: names}
}

// Pick returns the place for the next round.
func (p *Picker) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[p.rng.Intn(len(p.names))]
}
