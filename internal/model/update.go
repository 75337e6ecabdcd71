package model

import (
	"encoding/json"
	"math"
	"time"
)

// IndicatorUpdate is emitted once per touched series on every finalized bar.
type IndicatorUpdate struct {
	ID     string             `json:"id"`
	Family Family             `json:"family"`
	Symbol string             `json:"symbol"`
	Period string             `json:"period"`
	TS     time.Time          `json:"ts"`
	Values map[string]float64 `json:"values"` // "<calcPeriod>.<column>" -> latest value
	// Bar is set on OHLC updates only.
	Bar     *Bar   `json:"bar,omitempty"`
	Summary string `json:"summary"`
}

// Key returns "family:symbol:period".
func (u *IndicatorUpdate) Key() string {
	return string(u.Family) + ":" + u.Symbol + ":" + u.Period
}

// MarshalJSON encodes NaN values as null; encoding/json rejects NaN.
func (u IndicatorUpdate) MarshalJSON() ([]byte, error) {
	type alias IndicatorUpdate
	vals := make(map[string]*float64, len(u.Values))
	for k, v := range u.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			vals[k] = nil
			continue
		}
		v := v
		vals[k] = &v
	}
	return json.Marshal(struct {
		alias
		Values map[string]*float64 `json:"values"`
	}{alias: alias(u), Values: vals})
}

// UnmarshalJSON is the inverse of MarshalJSON: null decodes to NaN.
func (u *IndicatorUpdate) UnmarshalJSON(data []byte) error {
	type alias IndicatorUpdate
	aux := struct {
		*alias
		Values map[string]*float64 `json:"values"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.Values = make(map[string]float64, len(aux.Values))
	for k, v := range aux.Values {
		if v == nil {
			u.Values[k] = math.NaN()
			continue
		}
		u.Values[k] = *v
	}
	return nil
}

// JSON returns the JSON-encoded update (ignoring errors for hot-path usage).
func (u *IndicatorUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
