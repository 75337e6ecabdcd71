package indicator

import "fxindicators/internal/model"

// MA is the arithmetic mean of the last N closes.
type MA struct{ famInfo }

func newMA(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &MA{famInfo{model.FamilyMA, w, []string{"ma"}, true}}, nil
}

func (p *MA) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		if win := tail(h.closes, w.Size(0)); win != nil {
			p.set(row, i, 0, mean(win))
		}
	}
	return row
}
