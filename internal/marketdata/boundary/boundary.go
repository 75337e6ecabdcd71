// Package boundary produces wall-clock period-advance signals, either from
// the system clock (Scheduler) or from quote event time (Tracker).
package boundary

import (
	"sort"
	"time"

	"fxindicators/internal/markethours"
	"fxindicators/internal/model"
)

// Signal asks the engine to close the bar of Period that ends at Base and to
// open a bar ending at Next.
type Signal struct {
	Period string    `json:"period"`
	Base   time.Time `json:"base"`
	Next   time.Time `json:"next"`
}

// Gate decides whether the boundary at base of a period of length d is
// emitted. Emitters apply it per instant through admit, so a period that
// passes always brings the shorter periods sharing its boundary along.
type Gate func(base time.Time, d time.Duration) bool

// admit returns how many of the periods sharing the boundary b, shortest
// first, are emitted: everything up to the longest one that passes the gate
// or is forced. A longer period never advances past a shorter one.
func admit(gate Gate, b time.Time, aligned []model.Period, forced []bool) int {
	n := 0
	for i, p := range aligned {
		if gate == nil || (forced != nil && forced[i]) || gate(b, p.Duration) {
			n = i + 1
		}
	}
	return n
}

// SessionGate emits a boundary when the bar it closes or the bar it opens
// overlaps the FX session.
func SessionGate(base time.Time, d time.Duration) bool {
	return markethours.Overlaps(base.Add(-d), base) || markethours.Overlaps(base, base.Add(d))
}

// Floor aligns t down to a multiple of d counted from midnight UTC.
func Floor(t time.Time, d time.Duration) time.Time {
	return t.UTC().Truncate(d)
}

// Next returns the first boundary of d strictly after t.
func Next(t time.Time, d time.Duration) time.Time {
	return Floor(t, d).Add(d)
}

func wallOnly(periods []model.Period) []model.Period {
	var out []model.Period
	for _, p := range periods {
		if !p.IsTick() {
			out = append(out, p)
		}
	}
	model.SortByRank(out)
	return out
}

// Tracker derives boundary signals from quote timestamps. It is used when
// replaying recorded data, where the clock is the data itself.
type Tracker struct {
	periods []model.Period
	gate    Gate
	last    map[string]time.Time

	// MaxCatchUp caps the boundaries emitted per period for one gap.
	// Zero means no cap.
	MaxCatchUp int
}

// NewTracker creates a tracker for the wall-clock periods in periods.
func NewTracker(periods []model.Period, gate Gate) *Tracker {
	return &Tracker{
		periods: wallOnly(periods),
		gate:    gate,
		last:    make(map[string]time.Time),
	}
}

// Observe returns the boundaries crossed since the previous observation,
// ordered by time and then by period rank. They must be applied before the
// quote stamped ts. The first observation opens the bucket containing ts for
// every period, shortest first.
func (t *Tracker) Observe(ts time.Time) []Signal {
	var out []Signal
	if len(t.last) == 0 {
		// shortest first, so no period waits on a shorter one
		for _, p := range t.periods {
			cur := Floor(ts, p.Duration)
			out = append(out, Signal{Period: p.Name, Base: cur, Next: cur.Add(p.Duration)})
			t.last[p.Name] = cur
		}
		return out
	}
	type candidate struct {
		p      model.Period
		base   time.Time
		forced bool
	}
	var cands []candidate
	for _, p := range t.periods {
		cur := Floor(ts, p.Duration)
		last := t.last[p.Name]
		if !cur.After(last) {
			continue
		}
		start := last.Add(p.Duration)
		if t.MaxCatchUp > 0 {
			if n := int(cur.Sub(start)/p.Duration) + 1; n > t.MaxCatchUp {
				start = cur.Add(-time.Duration(t.MaxCatchUp-1) * p.Duration)
			}
		}
		for b := start; !b.After(cur); b = b.Add(p.Duration) {
			// the bucket holding ts always opens
			cands = append(cands, candidate{p: p, base: b, forced: b.Equal(cur)})
		}
		t.last[p.Name] = cur
	}
	// periods were visited shortest first, so each instant stays rank ordered
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].base.Before(cands[j].base) })

	for i := 0; i < len(cands); {
		j := i
		var aligned []model.Period
		var forced []bool
		for ; j < len(cands) && cands[j].base.Equal(cands[i].base); j++ {
			aligned = append(aligned, cands[j].p)
			forced = append(forced, cands[j].forced)
		}
		n := admit(t.gate, cands[i].base, aligned, forced)
		for _, c := range cands[i : i+n] {
			out = append(out, Signal{Period: c.p.Name, Base: c.base, Next: c.base.Add(c.p.Duration)})
		}
		i = j
	}
	return out
}

// Flush returns the signals that close the bucket holding last for every
// period, including the boundaries shorter periods need to reach the longest
// period's close. The gate is not applied.
func (t *Tracker) Flush(last time.Time) []Signal {
	if len(t.periods) == 0 || len(t.last) == 0 {
		return nil
	}
	longest := t.periods[len(t.periods)-1].Duration
	gate := t.gate
	t.gate = nil
	defer func() { t.gate = gate }()
	return t.Observe(Next(last, longest))
}
