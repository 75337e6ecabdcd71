package indicator

import (
	"fmt"

	"fxindicators/internal/model"
)

const (
	prSupport = iota
	prResistance
	prSupportValid
	prResistanceValid
)

// DefaultTolerance is the price-range confirmation ratio used when none is configured.
const DefaultTolerance = 0.001

// PriceRange tracks support and resistance levels over the last N bars.
//
// The window's highest high is a valid resistance when it lies strictly
// inside the window and the lows on both sides dipped at least tolerance
// below it; support mirrors that with the lowest low. Without a new valid
// level the previous one is carried until a close breaks through it.
type PriceRange struct {
	famInfo
	tolerance float64
}

func newPriceRange(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	tol := spec.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}
	if tol < 0 || tol >= 1 {
		return nil, fmt.Errorf("PRICE_RANGE: tolerance %v out of range", tol)
	}
	cols := []string{"support", "resistance", "support_valid", "resistance_valid"}
	return &PriceRange{famInfo: famInfo{model.FamilyPriceRange, w, cols, false}, tolerance: tol}, nil
}

func (p *PriceRange) Next(ohlc, own *Series) []float64 {
	h := readHLC(ohlc, longest(p.windows))
	last := h.lastClose()
	row := own.NewRow()
	for i, w := range p.windows {
		n := w.Size(0)
		highs, lows := tail(h.highs, n), tail(h.lows, n)
		if highs == nil || lows == nil {
			continue
		}

		res, ok := p.resistance(highs, lows)
		if !ok {
			res, ok = carry(own, i, prResistance, prResistanceValid, func(level float64) bool { return last <= level })
		}
		p.setLevel(row, i, prResistance, prResistanceValid, res, ok)

		sup, ok := p.support(highs, lows)
		if !ok {
			sup, ok = carry(own, i, prSupport, prSupportValid, func(level float64) bool { return last >= level })
		}
		p.setLevel(row, i, prSupport, prSupportValid, sup, ok)
	}
	return row
}

func (p *PriceRange) resistance(highs, lows []float64) (float64, bool) {
	hi, idx := maxOf(highs)
	if idx <= 0 || idx >= len(highs)-1 {
		return nan(), false
	}
	limit := hi * (1 - p.tolerance)
	left, _ := minOf(lows[:idx])
	right, _ := minOf(lows[idx+1:])
	return hi, left <= limit && right <= limit
}

func (p *PriceRange) support(highs, lows []float64) (float64, bool) {
	lo, idx := minOf(lows)
	if idx <= 0 || idx >= len(lows)-1 {
		return nan(), false
	}
	limit := lo * (1 + p.tolerance)
	left, _ := maxOf(highs[:idx])
	right, _ := maxOf(highs[idx+1:])
	return lo, left >= limit && right >= limit
}

// carry returns the previous valid level while holds reports it unbroken.
func carry(own *Series, window, levelCol, validCol int, holds func(level float64) bool) (float64, bool) {
	prev := own.Last(window, levelCol)
	if own.Last(window, validCol) != 1 || !finite(prev) || !holds(prev) {
		return nan(), false
	}
	return prev, true
}

func (p *PriceRange) setLevel(row []float64, window, levelCol, validCol int, level float64, valid bool) {
	if !valid {
		p.set(row, window, validCol, 0)
		return
	}
	p.set(row, window, levelCol, level)
	p.set(row, window, validCol, 1)
}
