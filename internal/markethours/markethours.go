// Package markethours models the weekly FX trading session: continuous from
// Sunday 22:00 UTC to Friday 22:00 UTC, closed on holidays.
package markethours

import (
	"fmt"
	"time"
)

// Session boundaries in UTC.
const (
	OpenWeekday  = time.Sunday
	CloseWeekday = time.Friday
	RolloverHour = 22
)

// IsMarketOpen returns true if t falls within the FX session.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	switch u.Weekday() {
	case time.Saturday:
		return false
	case OpenWeekday:
		return u.Hour() >= RolloverHour
	case CloseWeekday:
		return u.Hour() < RolloverHour
	}
	return true
}

// NextOpen returns t if the market is open, otherwise the next time it opens.
// Session transitions only happen on the hour.
func NextOpen(t time.Time) time.Time {
	return nextTransition(t, true)
}

// NextClose returns t if the market is closed, otherwise the next time it closes.
func NextClose(t time.Time) time.Time {
	return nextTransition(t, false)
}

func nextTransition(t time.Time, open bool) time.Time {
	u := t.UTC()
	if IsMarketOpen(u) == open {
		return u
	}
	h := u.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24*14; i++ { // two weeks covers any weekend plus holidays
		if IsMarketOpen(h) == open {
			return h
		}
		h = h.Add(time.Hour)
	}
	return h
}

// Overlaps reports whether the half-open interval [from, to) contains any
// trading time.
func Overlaps(from, to time.Time) bool {
	if !from.Before(to) {
		return false
	}
	return NextOpen(from).Before(to)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(NextClose(t).Sub(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
