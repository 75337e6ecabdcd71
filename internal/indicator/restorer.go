package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// Restorer warms processors up after a restart by replaying archived bars
// through the normal fan-out. No updates are published while it runs.
type Restorer struct {
	h      *Holder
	reader model.BarReader
	log    zerolog.Logger
}

// NewRestorer creates a Restorer reading from reader.
func NewRestorer(h *Holder, reader model.BarReader) *Restorer {
	return &Restorer{h: h, reader: reader, log: logger.Component("restorer")}
}

// Backfill replays up to limit archived bars per (symbol, period) stamped
// after since. Read failures for one key are logged and skipped; it returns
// the number of bars replayed.
func (r *Restorer) Backfill(ctx context.Context, since time.Time, limit int) (int, error) {
	if r.reader == nil {
		return 0, nil
	}
	total := 0
	for _, sym := range r.h.reg.Symbols() {
		for _, p := range r.h.reg.Periods() {
			if err := ctx.Err(); err != nil {
				return total, fmt.Errorf("backfill: %w", err)
			}
			bars, err := r.reader.ReadBars(ctx, sym.Name, p.Name, since, limit)
			if err != nil {
				r.log.Warn().Err(err).Str("symbol", sym.Name).Str("period", p.Name).Msg("read archived bars failed")
				continue
			}
			fed := 0
			for _, b := range bars {
				if r.h.warm(b) {
					fed++
				}
			}
			if fed > 0 {
				r.log.Debug().Str("symbol", sym.Name).Str("period", p.Name).Int("bars", fed).Msg("backfilled")
			}
			total += fed
		}
	}
	r.log.Info().Int("bars", total).Msg("warm-up complete")
	return total, nil
}

// warm feeds one archived bar through the fan-out without notifications.
func (h *Holder) warm(bar model.Bar) bool {
	st, ok := h.symbols[bar.Symbol]
	if !ok {
		return false
	}
	p, ok := h.periods[bar.Period]
	if !ok || bar.TS.IsZero() || !bar.Initialized {
		return false
	}
	if p.IsTick() {
		st.tickMu.Lock()
		defer st.tickMu.Unlock()
	} else {
		h.mu.Lock()
		defer h.mu.Unlock()
		st.lastClosed[p.Name] = bar
	}
	h.fanOut(st.symbol, p, bar, false)
	return true
}
