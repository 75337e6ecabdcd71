package indicator

import (
	"math"

	"fxindicators/internal/model"
)

const (
	stochK = iota
	stochD
	stochSlowD
)

// Stochastics computes %K over kPeriod bars, %D as the mean of the last
// dPeriod %K values and slow %D as the mean of the last slowDPeriod %D values.
// Both averages are clamped to 100.
type Stochastics struct{ famInfo }

func newStochastics(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 3)
	if err != nil {
		return nil, err
	}
	return &Stochastics{famInfo{model.FamilyStochastics, w, []string{"k", "d", "slowd"}, true}}, nil
}

func (p *Stochastics) Next(ohlc, own *Series) []float64 {
	h := readHLC(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		k := percentK(h, w.Size(0))
		p.set(row, i, stochK, k)
		d := runningMean(own.Tail(i, stochK, w.Size(1)-1), k, w.Size(1))
		p.set(row, i, stochD, d)
		p.set(row, i, stochSlowD, runningMean(own.Tail(i, stochD, w.Size(2)-1), d, w.Size(2)))
	}
	return row
}

func percentK(h history, n int) float64 {
	highs, lows := tail(h.highs, n), tail(h.lows, n)
	if highs == nil || lows == nil {
		return nan()
	}
	hi, _ := maxOf(highs)
	lo, _ := minOf(lows)
	rng := hi - lo
	if rng < eps {
		return nan()
	}
	return 100 * (h.lastClose() - lo) / rng
}

// runningMean averages the n-1 previous values with cur; any gap yields NaN.
func runningMean(past []float64, cur float64, n int) float64 {
	if !finite(cur) || len(past) < n-1 {
		return nan()
	}
	sum := cur
	for _, v := range past {
		if !finite(v) {
			return nan()
		}
		sum += v
	}
	return math.Min(100, sum/float64(n))
}
