package boundary

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// Scheduler fires wall-clock boundaries from the system clock. It owns the
// process cron, so auxiliary jobs (retention, deferred-expiry sweeps) are
// registered on it too.
type Scheduler struct {
	Cron *cron.Cron

	periods []model.Period
	gate    Gate
	emit    func(Signal)
	log     zerolog.Logger

	mu        sync.Mutex
	lastFired time.Time

	// Metrics hook
	OnSkipped func(period string)
}

// NewScheduler creates a scheduler for the wall-clock periods in periods.
// emit is called synchronously, shortest period first for a shared boundary.
func NewScheduler(periods []model.Period, gate Gate, emit func(Signal)) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		periods: wallOnly(periods),
		gate:    gate,
		emit:    emit,
		log:     logger.Component("boundary"),
	}
}

// AddFunc registers an auxiliary job on the scheduler's cron.
func (s *Scheduler) AddFunc(spec, name string, fn func()) error {
	if _, err := s.Cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("register %s job %q: %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

// Start primes every period at now and begins firing a boundary check at
// second zero of every minute.
func (s *Scheduler) Start(now time.Time) error {
	if err := s.AddFunc("0 * * * * *", "boundary", func() { s.Fire(time.Now()) }); err != nil {
		return err
	}
	s.Prime(now)
	s.Cron.Start()
	s.log.Info().Int("periods", len(s.periods)).Msg("scheduler started")
	return nil
}

// Stop stops the cron and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.Cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
	s.log.Info().Msg("scheduler stopped")
}

// Prime opens the bucket containing now for every period so bars are stamped
// before the first boundary fires.
func (s *Scheduler) Prime(now time.Time) []Signal {
	out := make([]Signal, 0, len(s.periods))
	for _, p := range s.periods {
		base := Floor(now, p.Duration)
		out = append(out, Signal{Period: p.Name, Base: base, Next: base.Add(p.Duration)})
	}
	s.mu.Lock()
	s.lastFired = Floor(now, time.Minute)
	s.mu.Unlock()
	s.send(out)
	return out
}

// Fire emits the signals due at every minute boundary since the last fire,
// up to and including the one at or before now. A boundary is fired at most
// once; a late cron run catches up on the minutes it missed.
func (s *Scheduler) Fire(now time.Time) []Signal {
	b := Floor(now, time.Minute)
	s.mu.Lock()
	if !b.After(s.lastFired) {
		s.mu.Unlock()
		return nil
	}
	start := s.lastFired.Add(time.Minute)
	if s.lastFired.IsZero() {
		start = b
	}
	s.lastFired = b
	s.mu.Unlock()

	if missed := int(b.Sub(start) / time.Minute); missed > 0 {
		s.log.Warn().Int("minutes", missed).Time("from", start).Msg("catching up missed boundaries")
	}
	var out []Signal
	for m := start; !m.After(b); m = m.Add(time.Minute) {
		out = append(out, s.due(m)...)
	}
	s.send(out)
	return out
}

// due returns the signals of every period whose boundary falls on b, gated
// as one instant.
func (s *Scheduler) due(b time.Time) []Signal {
	var aligned []model.Period
	for _, p := range s.periods {
		if Floor(b, p.Duration).Equal(b) {
			aligned = append(aligned, p)
		}
	}
	n := admit(s.gate, b, aligned, nil)
	out := make([]Signal, 0, n)
	for i, p := range aligned {
		if i >= n {
			if s.OnSkipped != nil {
				s.OnSkipped(p.Name)
			}
			continue
		}
		out = append(out, Signal{Period: p.Name, Base: b, Next: b.Add(p.Duration)})
	}
	return out
}

func (s *Scheduler) send(sigs []Signal) {
	if s.emit == nil {
		return
	}
	for _, sig := range sigs {
		s.log.Debug().Str("period", sig.Period).Time("base", sig.Base).Msg("boundary")
		s.emit(sig)
	}
}
