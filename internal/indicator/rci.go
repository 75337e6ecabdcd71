package indicator

import "fxindicators/internal/model"

// RCI is the Spearman rank correlation between time and price over the last
// N closes, rescaled from [-1, 1] to [0, 100]. Time rank 1 is the newest bar
// and price rank 1 the highest close, so a steadily rising market reads 100.
type RCI struct{ famInfo }

func newRCI(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &RCI{famInfo{model.FamilyRCI, w, []string{"rci"}, true}}, nil
}

func (p *RCI) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		n := w.Size(0)
		win := tail(h.closes, n)
		if win == nil || n < 2 {
			continue
		}
		priceRank := ranksDescending(win)
		sumD2 := 0.0
		for j := range win {
			timeRank := float64(n - j)
			d := timeRank - priceRank[j]
			sumD2 += d * d
		}
		nf := float64(n)
		rho := 1 - 6*sumD2/(nf*(nf*nf-1))
		p.set(row, i, 0, 50*(1+rho))
	}
	return row
}
