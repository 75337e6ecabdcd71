package indengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fxindicators/config"
	"fxindicators/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Redis.Disabled = true
	cfg.SQLite.Disabled = true
	cfg.Feed.URL = ""
	cfg.Kafka.Brokers = nil
	cfg.ClickHouse.Host = ""
	svc, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func do(t *testing.T, svc *Service, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	svc.http.ServeHTTP(rec, req)
	return rec
}

// closeOneBar finalizes the EURUSD M1 bar stamped 10:01.
func closeOneBar(svc *Service) {
	svc.holder.ChangePeriod("M1", t0, t0.Add(time.Minute))
	svc.holder.OnQuote(model.Quote{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1, TS: t0.Add(30 * time.Second)})
	svc.holder.ChangePeriod("M1", t0.Add(time.Minute), t0.Add(2*time.Minute))
}

func TestCatalog(t *testing.T) {
	svc := newTestService(t)
	rec := do(t, svc, http.MethodGet, "/api/v1/catalog", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got struct {
		Symbols  []string `json:"symbols"`
		Families []string `json:"families"`
		Periods  []struct {
			Name string `json:"name"`
		} `json:"periods"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got.Symbols, ",") != "EURUSD,GBPUSD,USDJPY" {
		t.Errorf("symbols = %v", got.Symbols)
	}
	if len(got.Families) != 12 || len(got.Periods) != 7 || got.Periods[0].Name != "M1" {
		t.Errorf("families=%v periods=%v", got.Families, got.Periods)
	}
}

func TestLatest(t *testing.T) {
	svc := newTestService(t)

	if rec := do(t, svc, http.MethodGet, "/api/v1/latest?family=OHLC&symbol=EURUSD&period=M1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("empty series: status %d", rec.Code)
	}
	if rec := do(t, svc, http.MethodGet, "/api/v1/latest?family=VWAP&symbol=EURUSD&period=M1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown series: status %d", rec.Code)
	}
	rec := do(t, svc, http.MethodGet, "/api/v1/latest?family=OHLC", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "ERR_REQUIRED") {
		t.Errorf("missing params: %d %s", rec.Code, rec.Body.String())
	}

	closeOneBar(svc)
	rec = do(t, svc, http.MethodGet, "/api/v1/latest?family=ohlc&symbol=eurusd&period=m1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var u model.IndicatorUpdate
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if !u.TS.Equal(t0.Add(time.Minute)) || u.Values["close"] != 1.1 {
		t.Errorf("latest = %+v", u)
	}
}

func TestPrune(t *testing.T) {
	svc := newTestService(t)
	closeOneBar(svc)

	rec := do(t, svc, http.MethodPost, "/api/v1/prune", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got pruneResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.HoldDays != 30 || got.Stats.Rows != 0 {
		t.Errorf("response = %+v", got)
	}

	rec = do(t, svc, http.MethodPost, "/api/v1/prune", `{"hold_days": -2}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "ERR_GTE") {
		t.Errorf("negative hold: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	svc := newTestService(t)

	rec := do(t, svc, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"feed_connected":false`) {
		t.Errorf("healthz without feed: %d %s", rec.Code, rec.Body.String())
	}
	svc.health.SetFeedConnected(true)
	if rec := do(t, svc, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz with feed: %d", rec.Code)
	}

	closeOneBar(svc)
	rec = do(t, svc, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `fxind_bars_total{period="M1"} 1`) {
		t.Errorf("metrics: %d", rec.Code)
	}
}

func TestConsumeQuotes(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.consumeQuotes(ctx)
		close(done)
	}()

	svc.quotes <- model.Quote{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002, TS: t0}
	svc.quotes <- model.Quote{Symbol: "XAUUSD", Bid: 2000, Ask: 2001, TS: t0}
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(svc.prom.QuotesTotal) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := testutil.ToFloat64(svc.prom.QuotesTotal); got != 2 {
		t.Errorf("quotes = %v", got)
	}
	if got := testutil.ToFloat64(svc.prom.IgnoredInputs.WithLabelValues("unknown_symbol")); got != 1 {
		t.Errorf("ignored = %v", got)
	}
}

func TestPruneSchedule(t *testing.T) {
	svc := newTestService(t)
	if err := svc.scheduleJobs(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(svc.sched.Cron.Entries()); n != 3 {
		t.Errorf("jobs = %d", n)
	}
}

func TestMissed(t *testing.T) {
	svc := newTestService(t)
	ch := svc.bus.Subscribe("ws")
	closeOneBar(svc)
	for len(ch) > 0 {
		svc.hub.Broadcast(<-ch)
	}

	rec := do(t, svc, http.MethodGet, "/api/v1/missed?channel=ohlc:eurusd:m1&from=1&to=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Channel    string            `json:"channel"`
		ChannelSeq int64             `json:"channel_seq"`
		Messages   []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Channel != "OHLC:EURUSD:M1" || got.ChannelSeq != 1 || len(got.Messages) != 1 {
		t.Errorf("missed = %+v", got)
	}

	rec = do(t, svc, http.MethodGet, "/api/v1/missed?channel=OHLC:EURUSD:M1&from=5&to=2", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "ERR_GTEFIELD") {
		t.Errorf("inverted range: %d %s", rec.Code, rec.Body.String())
	}
}
