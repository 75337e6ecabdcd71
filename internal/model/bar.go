package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an open/high/low/close accumulator for one symbol and period,
// tracked separately for bid and ask.
//
// A bar is mutable while it is the open bar of a LatestMap and is treated as
// immutable once it has been returned by a rotation.
type Bar struct {
	Symbol string    `json:"symbol"`
	Period string    `json:"period"`
	TS     time.Time `json:"ts"` // closing boundary; zero until the bar has been scheduled

	OpenBid  float64 `json:"open_bid"`
	OpenAsk  float64 `json:"open_ask"`
	HighBid  float64 `json:"high_bid"`
	HighAsk  float64 `json:"high_ask"`
	LowBid   float64 `json:"low_bid"`
	LowAsk   float64 `json:"low_ask"`
	CloseBid float64 `json:"close_bid"`
	CloseAsk float64 `json:"close_ask"`

	Ticks       int  `json:"ticks"`
	Initialized bool `json:"initialized"` // false until the first price arrives
}

// NewBar returns an empty bar stamped with ts.
func NewBar(symbol, period string, ts time.Time) *Bar {
	return &Bar{Symbol: symbol, Period: period, TS: ts}
}

// InitOpen seeds every price field with the given pair.
func (b *Bar) InitOpen(bid, ask float64) {
	b.OpenBid, b.OpenAsk = bid, ask
	b.HighBid, b.HighAsk = bid, ask
	b.LowBid, b.LowAsk = bid, ask
	b.CloseBid, b.CloseAsk = bid, ask
	b.Initialized = true
}

// Update applies one quote. The first call also seeds the open.
func (b *Bar) Update(bid, ask float64) {
	b.Ticks++
	b.Extend(bid, ask)
}

// Extend moves high/low/close to include a price without counting a quote.
func (b *Bar) Extend(bid, ask float64) {
	if !b.Initialized {
		b.InitOpen(bid, ask)
		return
	}
	if bid > b.HighBid {
		b.HighBid = bid
	}
	if ask > b.HighAsk {
		b.HighAsk = ask
	}
	if bid < b.LowBid {
		b.LowBid = bid
	}
	if ask < b.LowAsk {
		b.LowAsk = ask
	}
	b.CloseBid, b.CloseAsk = bid, ask
}

// Merge folds a shorter bar into b as the sequence open, high, low, close.
// A bar that never saw a price is ignored.
func (b *Bar) Merge(o *Bar) {
	if o == nil || !o.Initialized {
		return
	}
	if !b.Initialized {
		b.InitOpen(o.OpenBid, o.OpenAsk)
	}
	b.Extend(o.HighBid, o.HighAsk)
	b.Extend(o.LowBid, o.LowAsk)
	b.Extend(o.CloseBid, o.CloseAsk)
	b.Ticks += o.Ticks
}

// Flat turns an untouched bar into a flat one at prev's close.
func (b *Bar) Flat(prev *Bar) {
	b.InitOpen(prev.CloseBid, prev.CloseAsk)
	b.Ticks = 0
}

// RoundAll rounds every price to the instrument precision.
func (b *Bar) RoundAll(digits int32) {
	for _, p := range []*float64{
		&b.OpenBid, &b.OpenAsk, &b.HighBid, &b.HighAsk,
		&b.LowBid, &b.LowAsk, &b.CloseBid, &b.CloseAsk,
	} {
		*p = decimal.NewFromFloat(*p).Round(digits).InexactFloat64()
	}
}

func (b *Bar) Open(m PriceMode) float64  { return m.Pick(b.OpenBid, b.OpenAsk) }
func (b *Bar) High(m PriceMode) float64  { return m.Pick(b.HighBid, b.HighAsk) }
func (b *Bar) Low(m PriceMode) float64   { return m.Pick(b.LowBid, b.LowAsk) }
func (b *Bar) Close(m PriceMode) float64 { return m.Pick(b.CloseBid, b.CloseAsk) }

// Key returns "symbol:period".
func (b *Bar) Key() string {
	return b.Symbol + ":" + b.Period
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
