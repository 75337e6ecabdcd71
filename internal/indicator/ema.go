package indicator

import "fxindicators/internal/model"

// EMA seeds with the simple mean of the first N closes, then
// EMA = prev + α·(close − prev) with α = 2/(N+1).
// O(1) per update once seeded; the previous value is read from its own series.
type EMA struct{ famInfo }

func newEMA(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &EMA{famInfo{model.FamilyEMA, w, []string{"ema"}, true}}, nil
}

func (p *EMA) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		p.set(row, i, 0, emaNext(own.Last(i, 0), h.closes, w.Size(0)))
	}
	return row
}
