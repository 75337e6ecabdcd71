package indicator

import "time"

// PruneStats summarises one retention pass.
type PruneStats struct {
	Series  int            `json:"series"`  // series trimmed
	Rows    int            `json:"rows"`    // rows removed in total
	ByKey   map[string]int `json:"by_key"`  // "family:symbol:period" -> rows removed
	Elapsed time.Duration  `json:"elapsed"` // wall time of the pass
}

// PruneCutoff returns midnight UTC of the last timestamp's date minus holdDays.
func PruneCutoff(last time.Time, holdDays int) time.Time {
	y, m, d := last.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -holdDays)
}

// ReduceIndicatorData trims every non-daily series to the rows stamped at or
// after its own cutoff. Each series is trimmed atomically across all of its
// sequences.
func (r *Registry) ReduceIndicatorData(holdDays int) PruneStats {
	start := time.Now()
	stats := PruneStats{ByKey: make(map[string]int)}
	if holdDays < 0 {
		return stats
	}
	r.Each(func(s *Series) {
		if s.Period().IsDaily() {
			return
		}
		last := s.LastTS()
		if last.IsZero() {
			return
		}
		n := s.TrimBefore(PruneCutoff(last, holdDays))
		if n == 0 {
			return
		}
		stats.Series++
		stats.Rows += n
		stats.ByKey[s.key()] = n
	})
	stats.Elapsed = time.Since(start)
	return stats
}
