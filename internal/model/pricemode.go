package model

import (
	"fmt"
	"strings"
)

// PriceMode selects which side of the book a bar reports as its price.
type PriceMode int

const (
	PriceMid PriceMode = iota
	PriceBid
	PriceAsk
)

// ParsePriceMode accepts "mid", "bid" or "ask" (case-insensitive).
func ParsePriceMode(s string) (PriceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mid":
		return PriceMid, nil
	case "bid":
		return PriceBid, nil
	case "ask":
		return PriceAsk, nil
	}
	return PriceMid, fmt.Errorf("unknown price mode %q", s)
}

// Pick returns the representative price for a bid/ask pair.
func (m PriceMode) Pick(bid, ask float64) float64 {
	switch m {
	case PriceBid:
		return bid
	case PriceAsk:
		return ask
	}
	return (bid + ask) / 2
}

func (m PriceMode) String() string {
	switch m {
	case PriceBid:
		return "bid"
	case PriceAsk:
		return "ask"
	}
	return "mid"
}
