package indicator

import "fxindicators/internal/model"

// LinReg fits closes against x = 0..N-1 (oldest to newest) by least squares.
// The intercept column holds the fitted value at the newest bar.
type LinReg struct{ famInfo }

func newLinReg(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &LinReg{famInfo{model.FamilyLinReg, w, []string{"slope", "intercept"}, true}}, nil
}

func (p *LinReg) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		n := w.Size(0)
		ys := tail(h.closes, n)
		if ys == nil || n < 2 {
			continue
		}
		var sx, sy, sxx, sxy float64
		for x, y := range ys {
			fx := float64(x)
			sx += fx
			sy += y
			sxx += fx * fx
			sxy += fx * y
		}
		nf := float64(n)
		den := nf*sxx - sx*sx
		if den < eps {
			continue
		}
		slope := (nf*sxy - sx*sy) / den
		a := (sy - slope*sx) / nf
		p.set(row, i, 0, slope)
		p.set(row, i, 1, a+slope*(nf-1))
	}
	return row
}
