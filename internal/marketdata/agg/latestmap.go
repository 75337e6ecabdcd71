package agg

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fxindicators/internal/model"
)

// LatestMap owns the open bar of every subscribed period for one symbol.
//
// Quotes touch the shortest wall-clock bar and every tick-driven bar. Longer
// wall-clock bars only receive data when a shorter bar rotates into them.
type LatestMap struct {
	mu     sync.Mutex
	symbol model.Symbol
	wall   []model.Period // ascending rank
	ticks  []model.Period

	bars    map[string]*model.Bar
	counts  map[string]int             // TickCount: quotes in the open bar
	anchors map[string]decimal.Decimal // TickPip: last level crossed
}

// NewLatestMap creates empty open bars for every period.
func NewLatestMap(sym model.Symbol, periods []model.Period) *LatestMap {
	m := &LatestMap{
		symbol:  sym,
		bars:    make(map[string]*model.Bar, len(periods)),
		counts:  make(map[string]int),
		anchors: make(map[string]decimal.Decimal),
	}
	for _, p := range periods {
		if p.IsTick() {
			m.ticks = append(m.ticks, p)
		} else {
			m.wall = append(m.wall, p)
		}
		m.bars[p.Name] = model.NewBar(sym.Name, p.Name, time.Time{})
	}
	model.SortByRank(m.wall)
	model.SortByRank(m.ticks)
	return m
}

// Symbol returns the symbol this map aggregates.
func (m *LatestMap) Symbol() model.Symbol { return m.symbol }

// Update applies a quote and returns the tick-driven bars it closed, in order.
func (m *LatestMap) Update(q model.Quote) []model.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.wall) > 0 {
		m.bars[m.wall[0].Name].Update(q.Bid, q.Ask)
	}

	var closed []model.Bar
	for _, p := range m.ticks {
		switch p.Kind {
		case model.TickCount:
			closed = m.updateCount(p, q, closed)
		case model.TickPip:
			closed = m.updatePip(p, q, closed)
		}
	}
	return closed
}

func (m *LatestMap) updateCount(p model.Period, q model.Quote, out []model.Bar) []model.Bar {
	m.bars[p.Name].Update(q.Bid, q.Ask)
	m.counts[p.Name]++
	if m.counts[p.Name] < p.Count {
		return out
	}
	m.counts[p.Name] = 0
	return append(out, m.rotateTick(p, q.TS))
}

// updatePip walks the anchor one bucket at a time so a jump of K buckets
// closes exactly K bars, each spanning one bucket.
func (m *LatestMap) updatePip(p model.Period, q model.Quote, out []model.Bar) []model.Bar {
	step := decimal.NewFromFloat(m.symbol.PipsToPrice(p.Pips))
	if step.Sign() <= 0 {
		m.bars[p.Name].Update(q.Bid, q.Ask)
		return out
	}
	mid := decimal.NewFromFloat(q.Mid())

	anchor, seeded := m.anchors[p.Name]
	if !seeded {
		m.anchors[p.Name] = mid.Div(step).Floor().Mul(step)
		m.bars[p.Name].Update(q.Bid, q.Ask)
		return out
	}

	half := (q.Ask - q.Bid) / 2
	for mid.GreaterThanOrEqual(anchor.Add(step)) {
		anchor = anchor.Add(step)
		out = append(out, m.crossLevel(p, anchor, half, q.TS))
	}
	for mid.LessThanOrEqual(anchor.Sub(step)) {
		anchor = anchor.Sub(step)
		out = append(out, m.crossLevel(p, anchor, half, q.TS))
	}
	m.anchors[p.Name] = anchor
	m.bars[p.Name].Update(q.Bid, q.Ask)
	return out
}

// crossLevel closes the open bar at level and opens the next one there.
func (m *LatestMap) crossLevel(p model.Period, level decimal.Decimal, half float64, ts time.Time) model.Bar {
	px := level.InexactFloat64()
	bid, ask := px-half, px+half
	m.bars[p.Name].Extend(bid, ask)
	closed := m.rotateTick(p, ts)
	m.bars[p.Name].InitOpen(bid, ask)
	return closed
}

func (m *LatestMap) rotateTick(p model.Period, ts time.Time) model.Bar {
	cur := m.bars[p.Name]
	cur.TS = ts
	m.bars[p.Name] = model.NewBar(m.symbol.Name, p.Name, time.Time{})
	return *cur
}

// MoveNextDateTime closes the open bar of a wall-clock period, carries it
// into every longer wall-clock bar, and opens a fresh bar stamped next.
// ok is false for unknown or tick-driven periods.
func (m *LatestMap) MoveNextDateTime(period string, next time.Time) (closed model.Bar, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.wallIndex(period)
	if idx < 0 {
		return model.Bar{}, false
	}
	cur := m.bars[period]
	m.copyDataToLongerPeriod(idx, cur)
	m.bars[period] = model.NewBar(m.symbol.Name, period, next)
	return *cur, true
}

// copyDataToLongerPeriod is a no-op when the closing bar never saw a price.
func (m *LatestMap) copyDataToLongerPeriod(idx int, closing *model.Bar) {
	if !closing.Initialized {
		return
	}
	for _, p := range m.wall[idx+1:] {
		m.bars[p.Name].Merge(closing)
	}
}

func (m *LatestMap) wallIndex(period string) int {
	for i, p := range m.wall {
		if p.Name == period {
			return i
		}
	}
	return -1
}

// Current returns a copy of the open bar for period.
func (m *LatestMap) Current(period string) (model.Bar, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bars[period]
	if !ok {
		return model.Bar{}, false
	}
	return *b, true
}
