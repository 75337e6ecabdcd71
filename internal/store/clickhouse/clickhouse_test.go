package clickhouse

import (
	"math"
	"strings"
	"testing"
	"time"

	"fxindicators/internal/model"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{
		Host: "ch", Port: 9000, Database: "fx", User: "u", Password: "p",
		DialTimeout: 5 * time.Second, AsyncInsert: true, WaitForAsync: true,
	}
	want := "clickhouse://u:p@ch:9000/fx?dial_timeout=5s&async_insert=1&wait_for_async_insert=1"
	if got := buildDSN(cfg); got != want {
		t.Errorf("dsn = %s", got)
	}
	cfg = ClientConfig{Host: "ch", Port: 8123, Database: "fx", UseHTTP: true}
	if got := buildDSN(cfg); got != "clickhouse+http://:@ch:8123/fx" {
		t.Errorf("http dsn = %s", got)
	}
}

func TestRows_SkipsUndefinedValues(t *testing.T) {
	ts := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	u := model.IndicatorUpdate{
		Family: model.FamilyMACD, Symbol: "EURUSD", Period: "M5", TS: ts,
		Values: map[string]float64{
			"12-26-9.trigger": math.NaN(),
			"12-26-9.macd":    0.0004,
			"12-26-9.short":   1.0841,
		},
	}
	rows := Rows(u)
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Name != "12-26-9.macd" || rows[1].Name != "12-26-9.short" || rows[0].Family != "MACD" || !rows[1].TS.Equal(ts) {
		t.Errorf("rows = %+v", rows)
	}
}

func TestSchema(t *testing.T) {
	if ddl := Schema(0)[0]; strings.Contains(ddl, "TTL") {
		t.Error("ttl without retention")
	}
	if ddl := Schema(30)[0]; !strings.Contains(ddl, "INTERVAL 30 DAY") {
		t.Errorf("ddl = %s", ddl)
	}
}

func TestNewClient_RequiresHost(t *testing.T) {
	if _, err := NewClient(WithPort(9000)); err == nil {
		t.Error("expected host error")
	}
}
