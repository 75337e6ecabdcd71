package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fxindicators/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fxind.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_BuiltinDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != "info" || c.HTTP.Addr != ":9095" || c.Engine.HoldDays != 30 {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.Engine.DeferMaxWait != 2*time.Minute || c.Redis.LatestTTL != 24*time.Hour {
		t.Errorf("duration defaults: %v %v", c.Engine.DeferMaxWait, c.Redis.LatestTTL)
	}
	if len(c.Symbols) != 3 || len(c.WallPeriods) != 7 || len(c.Indicators) != 11 {
		t.Errorf("symbols=%d periods=%d indicators=%d", len(c.Symbols), len(c.WallPeriods), len(c.Indicators))
	}
	if c.Mode() != model.PriceMid {
		t.Errorf("mode = %v", c.Mode())
	}
}

func TestLoad_File(t *testing.T) {
	p := writeFile(t, `
log_level: debug
price_mode: bid
symbols:
  - name: eurusd
  - name: USDJPY
    digits: 3
    pip_size: 0.01
wall_periods: [M5, M1, H1]
tick_periods:
  - {name: T100, kind: count, count: 100}
  - {name: P5, kind: pip, pips: 5}
indicators:
  - family: ma
    windows: ["5", "20"]
  - family: MACD
    windows: ["12-26-9"]
engine:
  defer_max_wait: 90s
`)
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	syms := c.ModelSymbols()
	if syms[0].Name != "EURUSD" || syms[0].Digits != 5 || syms[0].PipSize != 0.0001 || syms[1].PipSize != 0.01 {
		t.Errorf("symbols = %+v", syms)
	}
	ps, err := c.Periods()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range ps {
		names = append(names, p.Name)
	}
	want := []string{"M1", "M5", "H1", "T100", "P5"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("periods = %v", names)
		}
	}
	specs, _ := c.FamilySpecs()
	if len(specs) != 2 || specs[0].Family != model.FamilyMA || len(specs[0].Windows) != 2 || specs[1].Windows[0].Size(2) != 9 {
		t.Errorf("specs = %+v", specs)
	}
	if c.Mode() != model.PriceBid || c.Engine.DeferMaxWait != 90*time.Second {
		t.Errorf("mode=%v wait=%v", c.Mode(), c.Engine.DeferMaxWait)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FXIND_HOLD_DAYS", "7")
	t.Setenv("FXIND_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("FXIND_CLICKHOUSE_ADDR", "ch:9440")
	t.Setenv("FXIND_FEED_URL", "ws://feed:9001/quotes")
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Engine.HoldDays != 7 || len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("engine=%+v kafka=%+v", c.Engine, c.Kafka)
	}
	if c.ClickHouse.Host != "ch" || c.ClickHouse.Port != 9440 || c.Feed.URL != "ws://feed:9001/quotes" {
		t.Errorf("clickhouse=%+v feed=%+v", c.ClickHouse, c.Feed)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown period":    "wall_periods: [M7]",
		"duplicate period":  "wall_periods: [M1, M1]",
		"duplicate symbol":  "symbols: [{name: EURUSD}, {name: EURUSD}]",
		"unknown family":    "indicators: [{family: VWAP}]",
		"ohlc listed":       "indicators: [{family: OHLC}]",
		"bad calc period":   `indicators: [{family: MA, windows: ["0"]}]`,
		"wrong arity":       `indicators: [{family: MACD, windows: ["12-26"]}]`,
		"bad price mode":    "price_mode: last",
		"tick without size": "tick_periods: [{name: T1, kind: count}]",
		"hold days":         "engine: {hold_days: -1}",
		"telegram chat":     "alerts: {telegram_bot_token: abc}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	c, err := Load("fxind.example.yaml")
	if err != nil {
		t.Fatal(err)
	}
	periods, err := c.Periods()
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 9 || periods[len(periods)-1].Name != "P5" {
		t.Errorf("periods = %v", periods)
	}
	specs, err := c.FamilySpecs()
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 11 {
		t.Errorf("families = %d, want 11", len(specs))
	}
	if !c.Engine.MarketHours || c.ClickHouse.TTLDays != 90 || c.HTTP.ReplayDepth != 500 {
		t.Errorf("engine=%+v clickhouse ttl=%d", c.Engine, c.ClickHouse.TTLDays)
	}
}
