package indicator

import "fxindicators/internal/model"

// famInfo carries the static description shared by every processor.
type famInfo struct {
	family  model.Family
	windows []model.CalcPeriod
	columns []string
	tick    bool
}

func (f famInfo) Family() model.Family        { return f.family }
func (f famInfo) Windows() []model.CalcPeriod { return f.windows }
func (f famInfo) Columns() []string           { return f.columns }
func (f famInfo) TickApplicable() bool        { return f.tick }

// set writes v into row at (window, column).
func (f famInfo) set(row []float64, window, column int, v float64) {
	row[window*len(f.columns)+column] = v
}
