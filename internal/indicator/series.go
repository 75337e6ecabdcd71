// Package indicator computes technical indicators over finalized bars.
//
// Every (family, symbol, period) owns one Series created at startup. A
// finalized bar is appended to the OHLC series first; each family Processor
// then reads that series plus its own history and appends exactly one row.
package indicator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"fxindicators/internal/model"
)

// Series is an append-only struct-of-arrays: one timestamp sequence plus one
// value sequence per (calc period, column). Append and TrimBefore touch every
// sequence under the same lock so the lengths never diverge.
type Series struct {
	mu      sync.RWMutex
	family  model.Family
	symbol  string
	period  model.Period
	windows []model.CalcPeriod
	columns []string

	ts   []time.Time
	vals [][]float64 // [window*len(columns)+column]
}

// NewSeries creates an empty series.
func NewSeries(family model.Family, symbol string, period model.Period, windows []model.CalcPeriod, columns []string) *Series {
	vals := make([][]float64, len(windows)*len(columns))
	return &Series{
		family:  family,
		symbol:  symbol,
		period:  period,
		windows: windows,
		columns: columns,
		vals:    vals,
	}
}

func (s *Series) Family() model.Family { return s.family }
func (s *Series) Symbol() string { return s.symbol }
func (s *Series) Period() model.Period { return s.period }
func (s *Series) Windows() []model.CalcPeriod { return s.windows }
func (s *Series) Columns() []string { return s.columns }
func (s *Series) Width() int { return len(s.vals) }
func (s *Series) index(window, column int) int { return window*len(s.columns) + column }

// NewRow returns a row of the series width filled with NaN.
func (s *Series) NewRow() []float64 {
	row := make([]float64, len(s.vals))
	for i := range row {
		row[i] = math.NaN()
	}
	return row
}

// Append adds one timestamp and one value to every sequence.
func (s *Series) Append(ts time.Time, row []float64) {
	if len(row) != len(s.vals) {
		panic(fmt.Sprintf("indicator: %s row width %d, series width %d", s.key(), len(row), len(s.vals)))
	}
	s.mu.Lock()
	s.ts = append(s.ts, ts)
	for i, v := range row {
		s.vals[i] = append(s.vals[i], v)
	}
	s.mu.Unlock()
}

// Len returns the number of rows.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ts)
}

// Tail returns a copy of at most the last n values of one sequence, oldest first.
func (s *Series) Tail(window, column, n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.vals[s.index(window, column)]
	if n > len(seq) {
		n = len(seq)
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	copy(out, seq[len(seq)-n:])
	return out
}

// Last returns the newest value of one sequence, or NaN when empty.
func (s *Series) Last(window, column int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.vals[s.index(window, column)]
	if len(seq) == 0 {
		return math.NaN()
	}
	return seq[len(seq)-1]
}

// LastTS returns the newest timestamp, or the zero time when empty.
func (s *Series) LastTS() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ts) == 0 {
		return time.Time{}
	}
	return s.ts[len(s.ts)-1]
}

// Timestamps returns a copy of the timestamp sequence.
func (s *Series) Timestamps() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]time.Time, len(s.ts))
	copy(out, s.ts)
	return out
}

// Latest returns the newest row keyed "<calcPeriod>.<column>". ok is false when empty.
func (s *Series) Latest() (ts time.Time, values map[string]float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ts) == 0 {
		return time.Time{}, nil, false
	}
	n := len(s.ts) - 1
	values = make(map[string]float64, len(s.vals))
	for w, cp := range s.windows {
		for c, col := range s.columns {
			values[valueKey(cp, col)] = s.vals[s.index(w, c)][n]
		}
	}
	return s.ts[n], values, true
}

// TrimBefore drops every row stamped before cutoff and returns how many were dropped.
func (s *Series) TrimBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.ts), func(i int) bool { return !s.ts[i].Before(cutoff) })
	if idx == 0 {
		return 0
	}
	s.ts = append([]time.Time(nil), s.ts[idx:]...)
	for i := range s.vals {
		s.vals[i] = append([]float64(nil), s.vals[i][idx:]...)
	}
	return idx
}

// lengths reports the timestamp length and every value sequence length.
func (s *Series) lengths() (int, []int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.vals))
	for i, v := range s.vals {
		out[i] = len(v)
	}
	return len(s.ts), out
}

func (s *Series) key() string {
	return string(s.family) + ":" + s.symbol + ":" + s.period.Name
}

func valueKey(cp model.CalcPeriod, column string) string {
	if cp.Name == "" {
		return column
	}
	return cp.Name + "." + column
}
