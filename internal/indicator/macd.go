package indicator

import (
	"fmt"

	"fxindicators/internal/model"
)

const (
	macdShort = iota
	macdLong
	macdLine
	macdTrigger
)

// MACD keeps a short and a long EMA (each warming up on its own), their
// difference, and a trigger EMA over the MACD line. The trigger only sees
// MACD values produced after the long EMA is defined.
type MACD struct{ famInfo }

func newMACD(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 3)
	if err != nil {
		return nil, err
	}
	for _, cp := range w {
		if cp.Size(0) >= cp.Size(1) {
			return nil, fmt.Errorf("MACD: short period must be below long period in %q", cp.Name)
		}
	}
	return &MACD{famInfo{model.FamilyMACD, w, []string{"short", "long", "macd", "trigger"}, true}}, nil
}

func (p *MACD) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		short := emaNext(own.Last(i, macdShort), h.closes, w.Size(0))
		long := emaNext(own.Last(i, macdLong), h.closes, w.Size(1))
		p.set(row, i, macdShort, short)
		p.set(row, i, macdLong, long)
		if !finite(short) || !finite(long) {
			continue
		}
		line := short - long
		p.set(row, i, macdLine, line)
		p.set(row, i, macdTrigger, p.trigger(own, i, line, w.Size(2)))
	}
	return row
}

// trigger advances the trigger EMA, seeding it with the mean of the first n
// defined MACD values.
func (p *MACD) trigger(own *Series, window int, line float64, n int) float64 {
	if prev := own.Last(window, macdTrigger); finite(prev) {
		return prev + 2.0/float64(n+1)*(line-prev)
	}
	past := own.Tail(window, macdLine, n-1)
	if len(past) < n-1 {
		return nan()
	}
	for _, v := range past {
		if !finite(v) {
			return nan()
		}
	}
	return mean(append(past, line))
}
