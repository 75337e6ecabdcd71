// Package replay feeds a recorded quote file through the engine in event
// time. Boundary signals are derived from the quote timestamps, so a replay
// produces the same bars as the live run that recorded it.
//
// The input is CSV with the columns ts,symbol,bid,ask. ts is RFC 3339 or
// Unix milliseconds; an optional header row is skipped.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/marketdata/boundary"
	"fxindicators/internal/model"
)

// Engine is the subset of the indicator holder a replay drives.
type Engine interface {
	OnQuote(q model.Quote)
	ChangePeriod(period string, base, next time.Time)
}

// Stats summarises one replay run.
type Stats struct {
	BatchID   string        `json:"batch_id"`
	Quotes    int           `json:"quotes"`
	Signals   int           `json:"signals"`
	Malformed int           `json:"malformed"`
	Late      int           `json:"late"` // older than the previous quote
	First     time.Time     `json:"first"`
	Last      time.Time     `json:"last"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Options controls pacing and the end-of-file flush.
type Options struct {
	// Speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64
	// Flush closes the buckets still open at end of input.
	Flush bool
	// MaxCatchUp caps boundaries emitted per period across one quote gap.
	MaxCatchUp int
	// Gate filters catch-up boundaries, e.g. boundary.SessionGate.
	Gate boundary.Gate
}

// Replayer replays one quote stream into an Engine.
type Replayer struct {
	engine  Engine
	periods []model.Period
	opts    Options
	log     zerolog.Logger

	// Optional hook, called after each signal is applied.
	OnSignal func(boundary.Signal)
}

// New creates a Replayer for the wall-clock periods among periods.
func New(engine Engine, periods []model.Period, opts Options) *Replayer {
	return &Replayer{
		engine:  engine,
		periods: periods,
		opts:    opts,
		log:     logger.Component("replay"),
	}
}

// Run replays src until EOF or ctx cancellation. Malformed rows and rows
// stamped before the previous quote are counted and skipped.
func (r *Replayer) Run(ctx context.Context, src io.Reader) (Stats, error) {
	start := time.Now()
	stats := Stats{BatchID: logger.BatchID(ctx)}
	if stats.BatchID == "" {
		stats.BatchID = logger.NewBatchID()
	}
	log := r.log.With().Str("batch_id", stats.BatchID).Logger()

	tracker := boundary.NewTracker(r.periods, r.opts.Gate)
	tracker.MaxCatchUp = r.opts.MaxCatchUp

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var prevTS time.Time
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("quotes", stats.Quotes).Msg("replay cancelled")
			stats.Elapsed = time.Since(start)
			return stats, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Malformed++
				continue
			}
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("read line %d: %w", line, err)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(rec[0], "ts") {
			continue
		}
		q, err := ParseRecord(rec)
		if err != nil {
			log.Debug().Err(err).Int("line", line).Msg("row skipped")
			stats.Malformed++
			continue
		}
		if !prevTS.IsZero() && q.TS.Before(prevTS) {
			stats.Late++
			continue
		}

		if err := r.pace(ctx, prevTS, q.TS); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, err
		}
		prevTS = q.TS

		stats.Signals += r.apply(tracker.Observe(q.TS))
		r.engine.OnQuote(q)
		stats.Quotes++
		if stats.First.IsZero() {
			stats.First = q.TS
		}
		stats.Last = q.TS
	}

	if r.opts.Flush && !stats.Last.IsZero() {
		stats.Signals += r.apply(tracker.Flush(stats.Last))
	}
	stats.Elapsed = time.Since(start)
	log.Info().Int("quotes", stats.Quotes).Int("signals", stats.Signals).
		Int("malformed", stats.Malformed).Int("late", stats.Late).
		Dur("elapsed", stats.Elapsed).Msg("replay completed")
	return stats, nil
}

func (r *Replayer) apply(sigs []boundary.Signal) int {
	for _, s := range sigs {
		r.engine.ChangePeriod(s.Period, s.Base, s.Next)
		if r.OnSignal != nil {
			r.OnSignal(s)
		}
	}
	return len(sigs)
}

// pace simulates the time gap between two quotes at the configured speed.
func (r *Replayer) pace(ctx context.Context, prev, cur time.Time) error {
	if r.opts.Speed <= 0 || prev.IsZero() {
		return nil
	}
	gap := cur.Sub(prev)
	if gap <= 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.opts.Speed)
	// Cap max sleep to avoid very long waits
	if scaled > 5*time.Second {
		scaled = 5 * time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scaled):
		return nil
	}
}

// ParseRecord converts one ts,symbol,bid,ask row into a quote.
func ParseRecord(rec []string) (model.Quote, error) {
	if len(rec) < 4 {
		return model.Quote{}, fmt.Errorf("want 4 fields, got %d", len(rec))
	}
	ts, err := parseTS(rec[0])
	if err != nil {
		return model.Quote{}, err
	}
	bid, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("bid: %w", err)
	}
	ask, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("ask: %w", err)
	}
	if rec[1] == "" || bid <= 0 || ask < bid {
		return model.Quote{}, fmt.Errorf("invalid quote %v", rec)
	}
	return model.Quote{Symbol: rec[1], Bid: bid, Ask: ask, TS: ts}, nil
}

func parseTS(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts %q: %w", s, err)
	}
	return ts.UTC(), nil
}
