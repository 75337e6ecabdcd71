package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	// Inputs
	QuotesTotal    prometheus.Counter
	IgnoredInputs  *prometheus.CounterVec // labels: reason
	FeedReconnects prometheus.Counter
	FeedInvalid    *prometheus.CounterVec // labels: reason

	// Period advances
	BarsTotal           *prometheus.CounterVec // labels: period
	DeferredTotal       *prometheus.CounterVec // labels: period
	DeferredOverwritten *prometheus.CounterVec // labels: period
	DeferredForced      *prometheus.CounterVec // labels: period
	DeferredWait        prometheus.Histogram
	BoundariesSkipped   *prometheus.CounterVec // labels: period

	// Processors
	ProcessDur *prometheus.HistogramVec // labels: family

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Sinks
	SinkWriteDur *prometheus.HistogramVec // labels: sink
	SinkErrors   *prometheus.CounterVec   // labels: sink

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Retention
	PrunedRows prometheus.Counter
	PruneDur   prometheus.Histogram

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

var fastBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}

// NewMetrics creates every metric and registers it with reg.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxind_quotes_total",
			Help: "Total quotes applied to the aggregator",
		}),
		IgnoredInputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_ignored_inputs_total",
			Help: "Quotes and period signals dropped because they name nothing subscribed",
		}, []string{"reason"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxind_feed_reconnects_total",
			Help: "Total quote feed reconnection attempts",
		}),
		FeedInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_feed_invalid_total",
			Help: "Feed messages rejected before reaching the engine",
		}, []string{"reason"}),

		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_bars_total",
			Help: "Finalized bars by period",
		}, []string{"period"}),
		DeferredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_deferred_total",
			Help: "Period advances deferred until the shorter period caught up",
		}, []string{"period"}),
		DeferredOverwritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_deferred_overwritten_total",
			Help: "Pending advances replaced by a newer boundary",
		}, []string{"period"}),
		DeferredForced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_deferred_forced_total",
			Help: "Pending advances forced after the maximum wait",
		}, []string{"period"}),
		DeferredWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxind_deferred_wait_seconds",
			Help:    "Time a forced advance spent waiting",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}),
		BoundariesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_boundaries_skipped_total",
			Help: "Boundaries not fired because the market was closed",
		}, []string{"period"}),

		ProcessDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxind_process_duration_seconds",
			Help:    "Processor latency per finalized bar",
			Buckets: fastBuckets,
		}, []string{"family"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_fanout_drops_total",
			Help: "Updates dropped by the bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxind_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		SinkWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxind_sink_write_duration_seconds",
			Help:    "Sink write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxind_sink_errors_total",
			Help: "Failed sink writes",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxind_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxind_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxind_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		PrunedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxind_pruned_rows_total",
			Help: "Series rows removed by retention",
		}),
		PruneDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxind_prune_duration_seconds",
			Help:    "Retention pass duration",
			Buckets: prometheus.DefBuckets,
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxind_market_state",
			Help: "FX session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.QuotesTotal,
		m.IgnoredInputs,
		m.FeedReconnects,
		m.FeedInvalid,
		m.BarsTotal,
		m.DeferredTotal,
		m.DeferredOverwritten,
		m.DeferredForced,
		m.DeferredWait,
		m.BoundariesSkipped,
		m.ProcessDur,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.SinkWriteDur,
		m.SinkErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.PrunedRows,
		m.PruneDur,
		m.MarketState,
	)

	return m
}

// SetSaturation records the fill level of a channel.
func (m *Metrics) SetSaturation(name string, length, capacity int) {
	if capacity == 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}
