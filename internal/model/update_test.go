package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestIndicatorUpdate_NaNEncodesAsNull(t *testing.T) {
	u := IndicatorUpdate{
		Family: FamilyMA,
		Symbol: "EURUSD",
		Period: "M1",
		TS:     time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		Values: map[string]float64{"20.ma": math.NaN(), "5.ma": 1.25},
	}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"20.ma":null`) {
		t.Errorf("NaN should encode as null: %s", b)
	}

	var back IndicatorUpdate
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsNaN(back.Values["20.ma"]) || back.Values["5.ma"] != 1.25 {
		t.Errorf("decoded values = %v", back.Values)
	}
	if back.Key() != "MA:EURUSD:M1" {
		t.Errorf("key = %q", back.Key())
	}
}
