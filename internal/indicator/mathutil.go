package indicator

import (
	"math"
	"sort"

	"fxindicators/internal/model"
)

// eps is the threshold under which a denominator counts as zero.
const eps = 1e-12

func nan() float64 { return math.NaN() }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return nan()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDevAround is the population standard deviation of xs around center.
func stdDevAround(xs []float64, center float64) float64 {
	if len(xs) == 0 || !finite(center) {
		return nan()
	}
	sum := 0.0
	for _, x := range xs {
		d := x - center
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// tail returns the last n elements of xs, or nil when xs is shorter.
func tail(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) < n {
		return nil
	}
	return xs[len(xs)-n:]
}

func maxOf(xs []float64) (float64, int) {
	if len(xs) == 0 {
		return nan(), -1
	}
	best, idx := xs[0], 0
	for i, x := range xs[1:] {
		if x > best {
			best, idx = x, i+1
		}
	}
	return best, idx
}

func minOf(xs []float64) (float64, int) {
	if len(xs) == 0 {
		return nan(), -1
	}
	best, idx := xs[0], 0
	for i, x := range xs[1:] {
		if x < best {
			best, idx = x, i+1
		}
	}
	return best, idx
}

// midpoint is (max(highs)+min(lows))/2 over the last n bars.
func midpoint(highs, lows []float64, n int) float64 {
	h, l := tail(highs, n), tail(lows, n)
	if h == nil || l == nil {
		return nan()
	}
	hi, _ := maxOf(h)
	lo, _ := minOf(l)
	return (hi + lo) / 2
}

// emaNext advances an EMA of period n by the newest close. Without a finite
// previous value it seeds with the simple mean of the last n closes.
func emaNext(prev float64, closes []float64, n int) float64 {
	if n <= 0 || len(closes) == 0 {
		return nan()
	}
	if finite(prev) {
		alpha := 2.0 / float64(n+1)
		return prev + alpha*(closes[len(closes)-1]-prev)
	}
	window := tail(closes, n)
	if window == nil {
		return nan()
	}
	seed := mean(window)
	if !finite(seed) {
		return nan()
	}
	return seed
}

// ranksDescending gives rank 1 to the largest value; ties share the average rank.
func ranksDescending(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] > xs[idx[b]] })

	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// longest returns the largest size named by any window.
func longest(windows []model.CalcPeriod) int {
	m := 0
	for _, w := range windows {
		for _, s := range w.Sizes {
			if s > m {
				m = s
			}
		}
	}
	return m
}
