package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// DepStatus is the last health check result of one dependency.
type DepStatus struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected bool
	LastQuoteTime time.Time
	Pending       func() map[string]time.Time // deferred advances, optional
	Market        func(time.Time) string      // session description, optional

	deps        map[string]*DepStatus
	lastCheckAt time.Time
	startedAt   time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		deps:      make(map[string]*DepStatus),
		startedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastQuoteTime(t time.Time) {
	h.mu.Lock()
	h.LastQuoteTime = t
	h.mu.Unlock()
}

// Require marks a dependency as part of the health verdict. It is reported
// down until its first successful check.
func (h *HealthStatus) Require(name string) {
	h.mu.Lock()
	if _, ok := h.deps[name]; !ok {
		h.deps[name] = &DepStatus{}
	}
	h.mu.Unlock()
}

// Record stores one check result.
func (h *HealthStatus) Record(name string, err error, latency time.Duration) {
	st := &DepStatus{OK: err == nil, LatencyMs: float64(latency.Microseconds()) / 1000.0}
	if err != nil {
		st.Error = err.Error()
	}
	h.mu.Lock()
	h.deps[name] = st
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.Record("redis", err, time.Since(start))
}

// CheckSQLite pings the archive and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	h.Record("sqlite", err, time.Since(start))
}

// StartLivenessChecker runs periodic dependency checks. nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status        string               `json:"status"`
	Uptime        string               `json:"uptime"`
	Market        string               `json:"market,omitempty"`
	FeedConnected bool                 `json:"feed_connected"`
	LastQuoteTime string               `json:"last_quote_time"`
	QuoteAge      string               `json:"quote_age"`
	Dependencies  map[string]DepStatus `json:"dependencies"`
	Deferred      []string             `json:"deferred"`
	LastCheckAt   string               `json:"last_check_at"`
}

// Report evaluates the current health. Status is "healthy" when the feed is
// connected and every required dependency is up, "unhealthy" when nothing
// is up, and "degraded" otherwise.
func (h *HealthStatus) Report(now time.Time) Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Uptime:        now.Sub(h.startedAt).Round(time.Second).String(),
		FeedConnected: h.FeedConnected,
		LastQuoteTime: h.LastQuoteTime.Format(time.RFC3339),
		Dependencies:  make(map[string]DepStatus, len(h.deps)),
		Deferred:      []string{},
		LastCheckAt:   h.lastCheckAt.Format(time.RFC3339),
	}
	if !h.LastQuoteTime.IsZero() {
		r.QuoteAge = now.Sub(h.LastQuoteTime).Round(time.Millisecond).String()
	}
	if h.Market != nil {
		r.Market = h.Market(now)
	}

	up, down := 0, 0
	if h.FeedConnected {
		up++
	} else {
		down++
	}
	for name, st := range h.deps {
		r.Dependencies[name] = *st
		if st.OK {
			up++
		} else {
			down++
		}
	}
	switch {
	case down == 0:
		r.Status = "healthy"
	case up == 0:
		r.Status = "unhealthy"
	default:
		r.Status = "degraded"
	}

	if h.Pending != nil {
		for p := range h.Pending() {
			r.Deferred = append(r.Deferred, p)
		}
		sort.Strings(r.Deferred)
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Report(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if report.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
