package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.IgnoredInputs.WithLabelValues("unknown_symbol").Inc()
	m.DeferredForced.WithLabelValues("M5").Add(2)

	if got := testutil.ToFloat64(m.IgnoredInputs.WithLabelValues("unknown_symbol")); got != 1 {
		t.Errorf("ignored = %v", got)
	}
	if got := testutil.ToFloat64(m.DeferredForced.WithLabelValues("M5")); got != 2 {
		t.Errorf("forced = %v", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("second registration should panic")
		}
	}()
	NewMetrics(reg)
}

func TestSetSaturation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetSaturation("redis", 25, 100)
	m.SetSaturation("empty", 0, 0)
	if got := testutil.ToFloat64(m.ChannelSaturationPct.WithLabelValues("redis")); got != 25 {
		t.Errorf("saturation = %v", got)
	}
}

func TestHealthStatus_Verdicts(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	h := NewHealthStatus()
	h.Require("redis")

	if got := h.Report(now).Status; got != "unhealthy" {
		t.Errorf("nothing up: %s", got)
	}
	h.SetFeedConnected(true)
	if got := h.Report(now).Status; got != "degraded" {
		t.Errorf("redis never checked: %s", got)
	}
	h.Record("redis", nil, 1500*time.Microsecond)
	r := h.Report(now)
	if r.Status != "healthy" || r.Dependencies["redis"].LatencyMs != 1.5 {
		t.Errorf("report = %+v", r)
	}
	h.Record("redis", errors.New("connection refused"), 0)
	if r := h.Report(now); r.Status != "degraded" || r.Dependencies["redis"].Error == "" {
		t.Errorf("report = %+v", r)
	}
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetFeedConnected(true)
	h.Pending = func() map[string]time.Time {
		return map[string]time.Time{"M5": {}, "H1": {}}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var r Report
	if err := json.NewDecoder(rec.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if len(r.Deferred) != 2 || r.Deferred[0] != "H1" {
		t.Errorf("deferred = %v", r.Deferred)
	}
}
