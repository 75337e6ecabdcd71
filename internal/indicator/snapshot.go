package indicator

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"fxindicators/internal/model"
)

// updateFrom builds an update from the newest row of s.
func updateFrom(s *Series) (model.IndicatorUpdate, bool) {
	ts, values, ok := s.Latest()
	if !ok {
		return model.IndicatorUpdate{}, false
	}
	u := model.IndicatorUpdate{
		Family: s.Family(),
		Symbol: s.Symbol(),
		Period: s.Period().Name,
		TS:     ts,
		Values: values,
	}
	u.Summary = FormatSummary(u)
	return u, true
}

// FormatSummary renders an update as one human-readable line, e.g.
// "MA EURUSD M5 2026-03-02T10:05:00Z 25.ma=1.08412 5.ma=1.08455".
func FormatSummary(u model.IndicatorUpdate) string {
	keys := make([]string, 0, len(u.Values))
	for k := range u.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(u.Family))
	b.WriteByte(' ')
	b.WriteString(u.Symbol)
	b.WriteByte(' ')
	b.WriteString(u.Period)
	b.WriteByte(' ')
	b.WriteString(u.TS.UTC().Format(time.RFC3339))
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(u.Values[k], 'f', -1, 64))
	}
	return b.String()
}

// Snapshot returns the latest values of one series.
// ErrUnknownSeries is returned for an unregistered key; ok is false while the
// series is still empty.
func (h *Holder) Snapshot(f model.Family, symbol, period string) (u model.IndicatorUpdate, ok bool, err error) {
	s, err := h.reg.Series(f, symbol, period)
	if err != nil {
		return model.IndicatorUpdate{}, false, err
	}
	u, ok = updateFrom(s)
	return u, ok, nil
}
