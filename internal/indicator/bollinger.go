package indicator

import "fxindicators/internal/model"

const (
	bbMA = iota
	bbSigma
	bbUpper
	bbLower
)

var bollingerColumns = []string{"ma", "sigma", "upper", "lower"}

// Bollinger bands: sigma is the population deviation of the last N closes
// around the average, bands are average ± sigma. The SMA variant recomputes
// the average; the EMA variant carries it in its own series.
type Bollinger struct {
	famInfo
	useEMA bool
}

func newBollingerSMA(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &Bollinger{famInfo: famInfo{model.FamilyBollinger, w, bollingerColumns, true}}, nil
}

func newBollingerEMA(spec FamilySpec) (Processor, error) {
	w, err := windowsOf(spec, 1)
	if err != nil {
		return nil, err
	}
	return &Bollinger{famInfo: famInfo{model.FamilyBollingerEMA, w, bollingerColumns, true}, useEMA: true}, nil
}

func (p *Bollinger) Next(ohlc, own *Series) []float64 {
	h := readCloses(ohlc, longest(p.windows))
	row := own.NewRow()
	for i, w := range p.windows {
		n := w.Size(0)
		win := tail(h.closes, n)
		if win == nil {
			continue
		}
		var avg float64
		if p.useEMA {
			avg = emaNext(own.Last(i, bbMA), h.closes, n)
		} else {
			avg = mean(win)
		}
		if !finite(avg) {
			continue
		}
		sigma := stdDevAround(win, avg)
		p.set(row, i, bbMA, avg)
		p.set(row, i, bbSigma, sigma)
		p.set(row, i, bbUpper, avg+sigma)
		p.set(row, i, bbLower, avg-sigma)
	}
	return row
}
