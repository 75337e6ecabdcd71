package indicator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/marketdata/agg"
	"fxindicators/internal/model"
)

// Publisher receives one update per touched series. Publish must not block.
type Publisher interface {
	Publish(u model.IndicatorUpdate)
}

// HolderConfig is the immutable startup configuration of a Holder.
type HolderConfig struct {
	Symbols   []model.Symbol
	Periods   []model.Period // wall-clock and tick-driven
	Families  []FamilySpec
	PriceMode model.PriceMode
	// DeferMaxWait bounds how long a deferred advance may wait for its
	// shorter period before ExpireDeferred forces it. Zero disables the bound.
	DeferMaxWait time.Duration
}

// advanceRequest is one period-advance signal, possibly parked in a deferred slot.
type advanceRequest struct {
	period     string
	base       time.Time
	next       time.Time
	deferredAt time.Time // zero until first deferred
}

type symbolState struct {
	symbol model.Symbol
	latest *agg.LatestMap
	tickMu sync.Mutex // serializes tick-driven rotation and fan-out

	lastClosed map[string]model.Bar // wall-clock period -> previous closed bar; guarded by Holder.mu
}

// Holder is the only caller of the aggregator and the processors.
//
// Wall-clock advances are serialized by mu. A period is advanced at base only
// after the next-shorter wall-clock period has advanced to base or later;
// otherwise the request waits in a one-slot deferred queue for that period
// and is retried when the shorter period catches up.
type Holder struct {
	mu  sync.Mutex
	reg *Registry
	agg *agg.Aggregator
	pub Publisher
	log zerolog.Logger

	mode    model.PriceMode
	maxWait time.Duration
	now     func() time.Time

	symbols     map[string]*symbolState
	symbolOrder []string
	wall        []model.Period // ascending rank
	periods     map[string]model.Period

	lastAdvanced map[string]time.Time
	waiting      map[string]*advanceRequest

	// Metrics hooks (optional, set externally)
	OnIgnored          func(reason string)
	OnDeferred         func(period string)
	OnDeferOverwritten func(period string)
	OnForcedAdvance    func(period string, base time.Time, waited time.Duration)
	OnBarFinalized     func(period string)
	OnProcessed        func(family model.Family, d time.Duration)
}

// NewHolder builds the registry and aggregator. A missing factory for any
// configured family is returned as an error and must abort startup.
func NewHolder(cfg HolderConfig, factories map[model.Family]ProcessorFactory, pub Publisher) (*Holder, error) {
	reg, err := NewRegistry(cfg.Symbols, cfg.Periods, cfg.Families, factories)
	if err != nil {
		return nil, err
	}
	h := &Holder{
		reg:          reg,
		agg:          agg.New(cfg.Symbols, cfg.Periods),
		pub:          pub,
		log:          logger.Component("holder"),
		mode:         cfg.PriceMode,
		maxWait:      cfg.DeferMaxWait,
		now:          time.Now,
		symbols:      make(map[string]*symbolState, len(cfg.Symbols)),
		periods:      make(map[string]model.Period, len(cfg.Periods)),
		lastAdvanced: make(map[string]time.Time),
		waiting:      make(map[string]*advanceRequest),
	}
	for _, p := range reg.Periods() {
		h.periods[p.Name] = p
		if !p.IsTick() {
			h.wall = append(h.wall, p)
		}
	}
	for _, name := range h.agg.Symbols() {
		latest, _ := h.agg.Get(name)
		h.symbols[name] = &symbolState{
			symbol:     latest.Symbol(),
			latest:     latest,
			lastClosed: make(map[string]model.Bar),
		}
		h.symbolOrder = append(h.symbolOrder, name)
	}
	return h, nil
}

// Registry exposes the series registry for read-only use.
func (h *Holder) Registry() *Registry { return h.reg }

// OnQuote applies a quote to its symbol and finalizes any tick-driven bars it closes.
func (h *Holder) OnQuote(q model.Quote) {
	st, ok := h.symbols[q.Symbol]
	if !ok {
		h.ignored("unknown_symbol")
		return
	}
	st.tickMu.Lock()
	defer st.tickMu.Unlock()
	for _, bar := range st.latest.Update(q) {
		bar.RoundAll(st.symbol.Digits)
		h.fanOut(st.symbol, h.periods[bar.Period], bar, true)
	}
}

// ChangePeriod handles a wall-clock boundary: the bar of period that closes at
// base is finalized and a fresh bar closing at next is opened.
func (h *Holder) ChangePeriod(period string, base, next time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changePeriodLocked(&advanceRequest{period: period, base: base, next: next})
}

func (h *Holder) changePeriodLocked(req *advanceRequest) {
	idx := h.wallIndex(req.period)
	if idx < 0 {
		h.ignored("unknown_period")
		return
	}
	if idx > 0 {
		shorter := h.wall[idx-1]
		if h.lastAdvanced[shorter.Name].Before(req.base) {
			h.deferAdvance(req, shorter.Name)
			return
		}
	}
	h.advance(idx, req.base, req.next)
}

// deferAdvance parks req in the slot for its period. Only the newest pending
// boundary per period is kept; an older one is dropped and its interval is
// folded into the newer bar.
func (h *Holder) deferAdvance(req *advanceRequest, waitingFor string) {
	if old, ok := h.waiting[req.period]; ok && old != req {
		if req.base.Before(old.base) {
			h.log.Warn().Str("period", req.period).Time("base", req.base).Time("pending", old.base).
				Msg("older advance ignored, newer boundary already pending")
			return
		}
		if !req.base.Equal(old.base) {
			h.log.Warn().Str("period", req.period).Time("dropped", old.base).Time("base", req.base).
				Msg("pending advance overwritten")
			if h.OnDeferOverwritten != nil {
				h.OnDeferOverwritten(req.period)
			}
		}
		if req.deferredAt.IsZero() {
			req.deferredAt = old.deferredAt
		}
	}
	if req.deferredAt.IsZero() {
		req.deferredAt = h.now()
	}
	h.waiting[req.period] = req
	h.log.Debug().Str("period", req.period).Str("waiting_for", waitingFor).Time("base", req.base).
		Msg("advance deferred")
	if h.OnDeferred != nil {
		h.OnDeferred(req.period)
	}
}

func (h *Holder) advance(idx int, base, next time.Time) {
	p := h.wall[idx]
	if old, ok := h.waiting[p.Name]; ok && !old.base.After(base) {
		delete(h.waiting, p.Name)
		if old.base.Before(base) {
			h.log.Warn().Str("period", p.Name).Time("dropped", old.base).Time("base", base).
				Msg("pending advance superseded")
			if h.OnDeferOverwritten != nil {
				h.OnDeferOverwritten(p.Name)
			}
		}
	}
	h.lastAdvanced[p.Name] = base

	for _, name := range h.symbolOrder {
		st := h.symbols[name]
		closed, ok := st.latest.MoveNextDateTime(p.Name, next)
		if !ok {
			continue
		}
		// a bar that outlived skipped or superseded boundaries closes at base
		if !closed.TS.IsZero() && closed.TS.Before(base) {
			closed.TS = base
		}
		if !closed.Initialized {
			prev, seen := st.lastClosed[p.Name]
			if !seen {
				continue
			}
			closed.Flat(&prev)
		}
		closed.RoundAll(st.symbol.Digits)
		st.lastClosed[p.Name] = closed
		if closed.TS.IsZero() {
			continue
		}
		h.fanOut(st.symbol, p, closed, true)
	}

	for _, longer := range h.wall[idx+1:] {
		req, ok := h.waiting[longer.Name]
		if !ok || req.base.After(base) {
			continue
		}
		delete(h.waiting, longer.Name)
		h.changePeriodLocked(req)
	}
}

// ExpireDeferred force-advances every deferred request that has waited longer
// than DeferMaxWait, shortest period first. It returns how many were forced.
func (h *Holder) ExpireDeferred(now time.Time) int {
	if h.maxWait <= 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	forced := 0
	for idx, p := range h.wall {
		req, ok := h.waiting[p.Name]
		if !ok {
			continue
		}
		waited := now.Sub(req.deferredAt)
		if waited < h.maxWait {
			continue
		}
		delete(h.waiting, p.Name)
		h.log.Warn().Str("period", p.Name).Time("base", req.base).Dur("waited", waited).
			Msg("deferred advance forced, shorter period never caught up")
		if h.OnForcedAdvance != nil {
			h.OnForcedAdvance(p.Name, req.base, waited)
		}
		h.advance(idx, req.base, req.next)
		forced++
	}
	return forced
}

// Pending returns the base time of every deferred request, keyed by period.
func (h *Holder) Pending() map[string]time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]time.Time, len(h.waiting))
	for p, req := range h.waiting {
		out[p] = req.base
	}
	return out
}

// LastAdvanced returns the last base time period was advanced to.
func (h *Holder) LastAdvanced(period string) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAdvanced[period]
}

// fanOut appends bar to the OHLC series, then runs every applicable processor.
// With notify set, one update per touched series is published in order.
func (h *Holder) fanOut(sym model.Symbol, p model.Period, bar model.Bar, notify bool) {
	ohlc := h.reg.lookup(model.FamilyOHLC, sym.Name, p.Name)
	if ohlc == nil {
		return
	}
	ohlc.Append(bar.TS, []float64{bar.Open(h.mode), bar.High(h.mode), bar.Low(h.mode), bar.Close(h.mode)})
	if h.OnBarFinalized != nil {
		h.OnBarFinalized(p.Name)
	}
	if notify {
		h.emit(ohlc, &bar)
	}

	for _, proc := range h.reg.Processors() {
		if p.IsTick() && !proc.TickApplicable() {
			continue
		}
		own := h.reg.lookup(proc.Family(), sym.Name, p.Name)
		if own == nil {
			continue
		}
		start := time.Now()
		own.Append(bar.TS, proc.Next(ohlc, own))
		if h.OnProcessed != nil {
			h.OnProcessed(proc.Family(), time.Since(start))
		}
		if notify {
			h.emit(own, nil)
		}
	}
}

func (h *Holder) emit(s *Series, bar *model.Bar) {
	if h.pub == nil {
		return
	}
	u, ok := updateFrom(s)
	if !ok {
		return
	}
	u.ID = uuid.NewString()
	if bar != nil {
		b := *bar
		u.Bar = &b
	}
	h.pub.Publish(u)
}

func (h *Holder) wallIndex(period string) int {
	for i, p := range h.wall {
		if p.Name == period {
			return i
		}
	}
	return -1
}

func (h *Holder) ignored(reason string) {
	if h.OnIgnored != nil {
		h.OnIgnored(reason)
	}
}

// WallPeriods returns the subscribed wall-clock periods, shortest first.
func (h *Holder) WallPeriods() []model.Period {
	return append([]model.Period(nil), h.wall...)
}

// Catalog lists what the engine computes.
type Catalog struct {
	Symbols  []string       `json:"symbols"`
	Families []model.Family `json:"families"`
	Periods  []model.Period `json:"periods"`
}

// Catalog returns the active symbols, families and periods.
func (h *Holder) Catalog() Catalog {
	syms := append([]string(nil), h.symbolOrder...)
	sort.Strings(syms)
	return Catalog{
		Symbols:  syms,
		Families: h.reg.Families(),
		Periods:  h.reg.Periods(),
	}
}

// Prune runs retention over every series. See Registry.ReduceIndicatorData.
// It holds the advance lock and every symbol's tick lock, so no fan-out is
// between its OHLC append and its processor appends while series are trimmed.
func (h *Holder) Prune(holdDays int) PruneStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range h.symbolOrder {
		st := h.symbols[name]
		st.tickMu.Lock()
		defer st.tickMu.Unlock()
	}
	stats := h.reg.ReduceIndicatorData(holdDays)
	h.log.Info().Int("hold_days", holdDays).Int("series", stats.Series).Int("rows", stats.Rows).
		Dur("elapsed", stats.Elapsed).Msg("retention pass complete")
	return stats
}
