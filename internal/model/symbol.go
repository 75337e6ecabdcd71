package model

import "math"

// Symbol is a tradable currency pair together with its precision rules.
type Symbol struct {
	Name    string  `json:"name"`
	Digits  int32   `json:"digits"`   // decimal places quoted by the venue
	PipSize float64 `json:"pip_size"` // price value of one pip, e.g. 0.0001 or 0.01
}

// PipsToPrice converts a pip distance into a price distance.
func (s Symbol) PipsToPrice(pips float64) float64 {
	return pips * s.PipSize
}

// PriceToPips converts a price distance into pips. Returns NaN for a zero pip size.
func (s Symbol) PriceToPips(price float64) float64 {
	if s.PipSize == 0 {
		return math.NaN()
	}
	return price / s.PipSize
}
