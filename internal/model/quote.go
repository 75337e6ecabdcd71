package model

import "time"

// Quote is a single bid/ask update for one symbol.
// Quotes are assumed monotonic per symbol; nothing here checks it.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	TS     time.Time `json:"ts"` // UTC event time
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}
