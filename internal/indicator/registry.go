package indicator

import (
	"errors"
	"fmt"

	"fxindicators/internal/model"
)

// ErrUnknownSeries is returned for a (family, symbol, period) with no series.
var ErrUnknownSeries = errors.New("indicator: unknown series")

// Registry is the fixed family → symbol → period lookup of every Series.
// It is fully built by NewRegistry and only read afterwards.
type Registry struct {
	symbols    []model.Symbol
	periods    []model.Period
	processors []Processor // configured order, OHLC excluded
	series     map[model.Family]map[string]map[string]*Series
}

// NewRegistry builds one Processor per FamilySpec and one Series per applicable
// (family, symbol, period). A FamilySpec whose family has no factory fails the
// whole registry.
func NewRegistry(symbols []model.Symbol, periods []model.Period, specs []FamilySpec,
	factories map[model.Family]ProcessorFactory) (*Registry, error) {

	r := &Registry{
		symbols: symbols,
		periods: append([]model.Period(nil), periods...),
		series:  make(map[model.Family]map[string]map[string]*Series),
	}
	model.SortByRank(r.periods)

	r.addFamily(model.FamilyOHLC, ohlcWindow, ohlcColumns, true)

	for _, spec := range specs {
		if spec.Family == model.FamilyOHLC {
			continue
		}
		if _, dup := r.series[spec.Family]; dup {
			return nil, fmt.Errorf("indicator: family %s configured twice", spec.Family)
		}
		factory, ok := factories[spec.Family]
		if !ok || factory == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingFactory, spec.Family)
		}
		proc, err := factory(spec)
		if err != nil {
			return nil, fmt.Errorf("indicator: build %s: %w", spec.Family, err)
		}
		r.processors = append(r.processors, proc)
		r.addFamily(proc.Family(), proc.Windows(), proc.Columns(), proc.TickApplicable())
	}
	return r, nil
}

func (r *Registry) addFamily(f model.Family, windows []model.CalcPeriod, columns []string, tick bool) {
	bySymbol := make(map[string]map[string]*Series, len(r.symbols))
	for _, s := range r.symbols {
		byPeriod := make(map[string]*Series, len(r.periods))
		for _, p := range r.periods {
			if p.IsTick() && !tick {
				continue
			}
			byPeriod[p.Name] = NewSeries(f, s.Name, p, windows, columns)
		}
		bySymbol[s.Name] = byPeriod
	}
	r.series[f] = bySymbol
}

// Series returns the series for (family, symbol, period).
func (r *Registry) Series(f model.Family, symbol, period string) (*Series, error) {
	s, ok := r.series[f][symbol][period]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s:%s", ErrUnknownSeries, f, symbol, period)
	}
	return s, nil
}

// lookup is Series without the error, for hot paths over known keys.
func (r *Registry) lookup(f model.Family, symbol, period string) *Series {
	return r.series[f][symbol][period]
}

// Processors returns the configured processors in fan-out order.
func (r *Registry) Processors() []Processor { return r.processors }

// Families returns OHLC followed by every configured family.
func (r *Registry) Families() []model.Family {
	out := make([]model.Family, 0, len(r.processors)+1)
	out = append(out, model.FamilyOHLC)
	for _, p := range r.processors {
		out = append(out, p.Family())
	}
	return out
}

// Symbols returns the registered symbols.
func (r *Registry) Symbols() []model.Symbol { return r.symbols }

// Periods returns the registered periods, shortest first.
func (r *Registry) Periods() []model.Period { return r.periods }

// Each calls fn for every series.
func (r *Registry) Each(fn func(*Series)) {
	for _, f := range r.Families() {
		for _, s := range r.symbols {
			for _, p := range r.periods {
				if ser := r.lookup(f, s.Name, p.Name); ser != nil {
					fn(ser)
				}
			}
		}
	}
}
