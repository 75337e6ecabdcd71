package agg

import (
	"sort"

	"fxindicators/internal/model"
)

// Aggregator routes quotes to the LatestMap of their symbol.
// The symbol set is fixed at construction; the map is never written afterwards.
type Aggregator struct {
	maps map[string]*LatestMap
}

// New creates one LatestMap per symbol, each subscribed to every period.
func New(symbols []model.Symbol, periods []model.Period) *Aggregator {
	a := &Aggregator{maps: make(map[string]*LatestMap, len(symbols))}
	for _, s := range symbols {
		a.maps[s.Name] = NewLatestMap(s, periods)
	}
	return a
}

// Get returns the LatestMap for symbol.
func (a *Aggregator) Get(symbol string) (*LatestMap, bool) {
	m, ok := a.maps[symbol]
	return m, ok
}

// Symbols returns the subscribed symbol names in sorted order.
func (a *Aggregator) Symbols() []string {
	out := make([]string, 0, len(a.maps))
	for name := range a.maps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
