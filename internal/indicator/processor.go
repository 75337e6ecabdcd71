package indicator

import (
	"errors"
	"fmt"

	"fxindicators/internal/model"
)

// ErrMissingFactory is returned when a configured family has no constructor.
var ErrMissingFactory = errors.New("indicator: no factory for family")

// OHLC series columns. The OHLC family is fed by the holder, not a Processor.
const (
	ohlcOpen = iota
	ohlcHigh
	ohlcLow
	ohlcClose
)

var ohlcColumns = []string{"open", "high", "low", "close"}

// ohlcWindow is the single implicit calc period of the OHLC series.
var ohlcWindow = []model.CalcPeriod{{Name: ""}}

// Processor computes one family over every configured calc period.
type Processor interface {
	Family() model.Family
	Windows() []model.CalcPeriod
	Columns() []string
	// TickApplicable reports whether the family runs on tick-driven periods.
	TickApplicable() bool
	// Next returns the row to append to own for the bar just appended to ohlc.
	// Values that cannot be computed yet are NaN.
	Next(ohlc, own *Series) []float64
}

// FamilySpec is the configured activation of one family.
type FamilySpec struct {
	Family    model.Family
	Windows   []model.CalcPeriod
	Tolerance float64 // PRICE_RANGE only
}

// ProcessorFactory builds the Processor for a family.
type ProcessorFactory func(spec FamilySpec) (Processor, error)

// DefaultFactories returns the constructor for every built-in family.
func DefaultFactories() map[model.Family]ProcessorFactory {
	return map[model.Family]ProcessorFactory{
		model.FamilyMA:           newMA,
		model.FamilyEMA:          newEMA,
		model.FamilyRSI:          newRSI,
		model.FamilyRCI:          newRCI,
		model.FamilyMACD:         newMACD,
		model.FamilyBollinger:    newBollingerSMA,
		model.FamilyBollingerEMA: newBollingerEMA,
		model.FamilyStochastics:  newStochastics,
		model.FamilyIchimoku:     newIchimoku,
		model.FamilyLinReg:       newLinReg,
		model.FamilyPriceRange:   newPriceRange,
	}
}

// defaultWindows is used when a family is activated without explicit windows.
var defaultWindows = map[model.Family][]string{
	model.FamilyMA:           {"5", "25", "75"},
	model.FamilyEMA:          {"12", "26"},
	model.FamilyRSI:          {"14"},
	model.FamilyRCI:          {"9"},
	model.FamilyMACD:         {"12-26-9"},
	model.FamilyBollinger:    {"20"},
	model.FamilyBollingerEMA: {"20"},
	model.FamilyStochastics:  {"14-3-3"},
	model.FamilyIchimoku:     {"9-26-52"},
	model.FamilyLinReg:       {"20"},
	model.FamilyPriceRange:   {"20"},
}

// windowsOf resolves the configured windows, falling back to the family defaults,
// and checks every window names exactly arity sizes.
func windowsOf(spec FamilySpec, arity int) ([]model.CalcPeriod, error) {
	windows := spec.Windows
	if len(windows) == 0 {
		for _, name := range defaultWindows[spec.Family] {
			cp, err := model.ParseCalcPeriod(name)
			if err != nil {
				return nil, err
			}
			windows = append(windows, cp)
		}
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%s: no calc periods", spec.Family)
	}
	seen := make(map[string]bool, len(windows))
	for _, w := range windows {
		if len(w.Sizes) != arity {
			return nil, fmt.Errorf("%s: calc period %q needs %d sizes", spec.Family, w.Name, arity)
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("%s: duplicate calc period %q", spec.Family, w.Name)
		}
		seen[w.Name] = true
	}
	return windows, nil
}

// history is the recent OHLC data a processor reads, oldest first.
type history struct {
	highs  []float64
	lows   []float64
	closes []float64
}

func readCloses(ohlc *Series, n int) history {
	return history{closes: ohlc.Tail(0, ohlcClose, n)}
}

func readHLC(ohlc *Series, n int) history {
	return history{
		highs:  ohlc.Tail(0, ohlcHigh, n),
		lows:   ohlc.Tail(0, ohlcLow, n),
		closes: ohlc.Tail(0, ohlcClose, n),
	}
}

func (h history) lastClose() float64 {
	if len(h.closes) == 0 {
		return nan()
	}
	return h.closes[len(h.closes)-1]
}
