package indicator

import "fxindicators/internal/model"

const (
	ichiTenkan = iota
	ichiKijun
	ichiSenkou1
	ichiSenkou2
	ichiChikou
)

// Ichimoku stores the five lines unshifted at the bar's own timestamp;
// consumers apply the forward/backward displacement. The lines are
// time-displaced, so the family is not run on tick-driven periods.
type Ichimoku struct{ famInfo }

func newIchimoku(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 3)
	if err != nil {
		return nil, err
	}
	cols := []string{"tenkan", "kijun", "senkou1", "senkou2", "chikou"}
	return &Ichimoku{famInfo{model.FamilyIchimoku, w, cols, false}}, nil
}

func (p *Ichimoku) Next(ohlc, own *Series) []float64 {
	h := readHLC(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		tenkan := midpoint(h.highs, h.lows, w.Size(0))
		kijun := midpoint(h.highs, h.lows, w.Size(1))
		p.set(row, i, ichiTenkan, tenkan)
		p.set(row, i, ichiKijun, kijun)
		if finite(tenkan) && finite(kijun) {
			p.set(row, i, ichiSenkou1, (tenkan+kijun)/2)
		}
		p.set(row, i, ichiSenkou2, midpoint(h.highs, h.lows, w.Size(2)))
		p.set(row, i, ichiChikou, h.lastClose())
	}
	return row
}
