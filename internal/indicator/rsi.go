package indicator

import "fxindicators/internal/model"

// RSI is 100·gain/(gain+loss) over the last N close-to-close deltas.
type RSI struct{ famInfo }

func newRSI(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &RSI{famInfo{model.FamilyRSI, w, []string{"rsi"}, true}}, nil
}

func (p *RSI) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows)+1)
	row := own.NewRow()
	for i, w := range p.windows {
		win := tail(h.closes, w.Size(0)+1)
		if win == nil {
			continue
		}
		gain, loss := 0.0, 0.0
		for j := 1; j < len(win); j++ {
			d := win[j] - win[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		if gain+loss < eps {
			continue
		}
		p.set(row, i, 0, 100*gain/(gain+loss))
	}
	return row
}
