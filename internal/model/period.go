package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PeriodKind tells how a period decides when its bar closes.
type PeriodKind int

const (
	// WallClock periods close on fixed calendar boundaries.
	WallClock PeriodKind = iota
	// TickCount periods close after a fixed number of quotes.
	TickCount
	// TickPip periods close each time price crosses a pip-sized bucket edge.
	TickPip
)

func (k PeriodKind) String() string {
	switch k {
	case WallClock:
		return "wallclock"
	case TickCount:
		return "count"
	case TickPip:
		return "pip"
	}
	return "unknown"
}

// tickRankBase puts every tick-driven period after all wall-clock periods.
const tickRankBase = 1 << 20

// Period is one aggregation resolution.
type Period struct {
	Name     string        `json:"name"`
	Kind     PeriodKind    `json:"kind"`
	Rank     int           `json:"rank"`
	Duration time.Duration `json:"duration,omitempty"` // WallClock only
	Count    int           `json:"count,omitempty"`    // TickCount only
	Pips     float64       `json:"pips,omitempty"`     // TickPip only
}

// IsTick reports whether the period is closed by quotes rather than the clock.
func (p Period) IsTick() bool { return p.Kind != WallClock }

// IsDaily reports whether p is a wall-clock period of one day or longer.
func (p Period) IsDaily() bool {
	return p.Kind == WallClock && p.Duration >= 24*time.Hour
}

func (p Period) String() string { return p.Name }

// ParseWallClock parses names like "M1", "M15", "H4" or "D1".
func ParseWallClock(name string) (Period, error) {
	if len(name) < 2 {
		return Period{}, fmt.Errorf("invalid period %q", name)
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n <= 0 {
		return Period{}, fmt.Errorf("invalid period %q", name)
	}
	var unit time.Duration
	switch strings.ToUpper(name[:1]) {
	case "M":
		unit = time.Minute
	case "H":
		unit = time.Hour
	case "D":
		unit = 24 * time.Hour
	default:
		return Period{}, fmt.Errorf("invalid period unit in %q", name)
	}
	d := time.Duration(n) * unit
	if d > 24*time.Hour {
		return Period{}, fmt.Errorf("period %q longer than one day", name)
	}
	if (24*time.Hour)%d != 0 {
		return Period{}, fmt.Errorf("period %q does not divide a day", name)
	}
	return Period{
		Name:     strings.ToUpper(name),
		Kind:     WallClock,
		Rank:     int(d / time.Minute),
		Duration: d,
	}, nil
}

// NewTickCountPeriod builds a period that closes every count quotes.
// idx orders tick periods among themselves.
func NewTickCountPeriod(name string, count, idx int) Period {
	return Period{Name: name, Kind: TickCount, Rank: tickRankBase + idx, Count: count}
}

// NewTickPipPeriod builds a period that closes on every pips-wide bucket crossing.
func NewTickPipPeriod(name string, pips float64, idx int) Period {
	return Period{Name: name, Kind: TickPip, Rank: tickRankBase + idx, Pips: pips}
}

// SortByRank orders periods shortest first.
func SortByRank(ps []Period) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Rank < ps[j].Rank })
}
