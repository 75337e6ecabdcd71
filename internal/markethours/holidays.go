package markethours

import "time"

// Days on which the interbank FX market does not trade, by UTC calendar date.
var fxHolidays = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.December, 25}, // Christmas
}

// pre-compute for fast lookup
var holidaySet map[monthDay]bool

type monthDay struct {
	month time.Month
	day   int
}

func init() {
	holidaySet = make(map[monthDay]bool, len(fxHolidays))
	for _, h := range fxHolidays {
		holidaySet[monthDay{h.month, h.day}] = true
	}
}

// IsHoliday returns true if the UTC date of t is an FX market holiday.
func IsHoliday(t time.Time) bool {
	u := t.UTC()
	return holidaySet[monthDay{u.Month(), u.Day()}]
}
