package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Family identifies one indicator algorithm.
type Family string

const (
	FamilyOHLC         Family = "OHLC"
	FamilyMA           Family = "MA"
	FamilyEMA          Family = "EMA"
	FamilyRSI          Family = "RSI"
	FamilyRCI          Family = "RCI"
	FamilyMACD         Family = "MACD"
	FamilyBollinger    Family = "BOLLINGER"
	FamilyBollingerEMA Family = "BOLLINGER_EMA"
	FamilyStochastics  Family = "STOCHASTICS"
	FamilyIchimoku     Family = "ICHIMOKU"
	FamilyLinReg       Family = "LINREG"
	FamilyPriceRange   Family = "PRICE_RANGE"
)

// CalcPeriod is one named sub-window of a family, e.g. "20" or "12-26-9".
type CalcPeriod struct {
	Name  string `json:"name"`
	Sizes []int  `json:"sizes"`
}

// Size returns the i-th window size, or 0 when absent.
func (c CalcPeriod) Size(i int) int {
	if i < 0 || i >= len(c.Sizes) {
		return 0
	}
	return c.Sizes[i]
}

// ParseCalcPeriod parses a dash-separated list of positive window sizes.
func ParseCalcPeriod(s string) (CalcPeriod, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CalcPeriod{}, fmt.Errorf("empty calc period")
	}
	parts := strings.Split(s, "-")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return CalcPeriod{}, fmt.Errorf("invalid calc period %q", s)
		}
		sizes = append(sizes, n)
	}
	return CalcPeriod{Name: s, Sizes: sizes}, nil
}
