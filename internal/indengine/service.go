// Package indengine wires the indicator engine: quote intake, boundary
// scheduling, the holder, the update bus and its sinks, and the admin API.
package indengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"fxindicators/config"
	"fxindicators/internal/bus"
	"fxindicators/internal/gateway"
	"fxindicators/internal/indicator"
	"fxindicators/internal/logger"
	"fxindicators/internal/marketdata/boundary"
	"fxindicators/internal/marketdata/feed"
	"fxindicators/internal/markethours"
	"fxindicators/internal/metrics"
	"fxindicators/internal/model"
	"fxindicators/internal/notification"
	chstore "fxindicators/internal/store/clickhouse"
	kafkastore "fxindicators/internal/store/kafka"
	redisstore "fxindicators/internal/store/redis"
	sqlitestore "fxindicators/internal/store/sqlite"
)

type sink struct {
	name string
	impl model.UpdateSink
}

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config
	log zerolog.Logger

	holder   *indicator.Holder
	bus      *bus.FanOut
	sched    *boundary.Scheduler
	feed     *feed.Client
	quotes   chan model.Quote
	notifier notification.Notifier

	redisWriter *redisstore.Writer
	sqlWriter   *sqlitestore.Writer
	sqlReader   *sqlitestore.Reader
	chClient    *chstore.Client
	hub         *gateway.Hub
	sinks       []sink

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	http     *echo.Echo
}

// New builds the holder and connects every configured sink. A registry
// failure aborts startup; so does an unreachable Redis. Optional sinks that
// fail to connect are logged and skipped.
func New(cfg *config.Config) (*Service, error) {
	periods, err := cfg.Periods()
	if err != nil {
		return nil, err
	}
	specs, err := cfg.FamilySpecs()
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:      cfg,
		log:      logger.Component("indengine"),
		bus:      bus.New(cfg.Engine.BusBuffer),
		quotes:   make(chan model.Quote, cfg.Feed.QueueSize),
		registry: prometheus.NewRegistry(),
		health:   metrics.NewHealthStatus(),
	}
	svc.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc.prom = metrics.NewMetrics(svc.registry)
	svc.notifier = newNotifier(cfg.Alerts)

	svc.holder, err = indicator.NewHolder(indicator.HolderConfig{
		Symbols:      cfg.ModelSymbols(),
		Periods:      periods,
		Families:     specs,
		PriceMode:    cfg.Mode(),
		DeferMaxWait: cfg.Engine.DeferMaxWait,
	}, indicator.DefaultFactories(), svc.bus)
	if err != nil {
		return nil, fmt.Errorf("build holder: %w", err)
	}
	svc.instrumentHolder()

	var gate boundary.Gate
	if cfg.Engine.MarketHours {
		gate = boundary.SessionGate
	}
	svc.sched = boundary.NewScheduler(periods, gate, func(sig boundary.Signal) {
		svc.holder.ChangePeriod(sig.Period, sig.Base, sig.Next)
	})
	svc.sched.OnSkipped = func(period string) { svc.prom.BoundariesSkipped.WithLabelValues(period).Inc() }

	if cfg.Feed.URL != "" {
		svc.feed, err = feed.New(feed.Config{
			URL:               cfg.Feed.URL,
			ReconnectDelay:    cfg.Feed.ReconnectDelay,
			MaxReconnectDelay: cfg.Feed.MaxReconnectDelay,
			ReadTimeout:       cfg.Feed.ReadTimeout,
		})
		if err != nil {
			return nil, err
		}
		svc.feed.OnConnect = func() { svc.health.SetFeedConnected(true) }
		svc.feed.OnReconnect = func() {
			svc.health.SetFeedConnected(false)
			svc.prom.FeedReconnects.Inc()
		}
		svc.feed.OnInvalid = func(reason string) { svc.prom.FeedInvalid.WithLabelValues(reason).Inc() }
	} else {
		svc.log.Warn().Msg("no feed url configured, engine will only advance on the clock")
	}

	if err := svc.connectSinks(); err != nil {
		svc.closeSinks()
		return nil, err
	}
	svc.http = svc.newRouter()
	return svc, nil
}

func newNotifier(cfg config.AlertsConfig) notification.Notifier {
	m := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		m = append(m, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		m = append(m, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return m
}

func (svc *Service) instrumentHolder() {
	h, m := svc.holder, svc.prom
	h.OnIgnored = func(reason string) { m.IgnoredInputs.WithLabelValues(reason).Inc() }
	h.OnDeferred = func(period string) { m.DeferredTotal.WithLabelValues(period).Inc() }
	h.OnDeferOverwritten = func(period string) { m.DeferredOverwritten.WithLabelValues(period).Inc() }
	h.OnBarFinalized = func(period string) { m.BarsTotal.WithLabelValues(period).Inc() }
	h.OnProcessed = func(f model.Family, d time.Duration) { m.ProcessDur.WithLabelValues(string(f)).Observe(d.Seconds()) }
	h.OnForcedAdvance = func(period string, base time.Time, waited time.Duration) {
		m.DeferredForced.WithLabelValues(period).Inc()
		m.DeferredWait.Observe(waited.Seconds())
		svc.alert(notification.AlertWarning, "deferred advance forced",
			fmt.Sprintf("%s boundary %s forced after waiting %s", period, base.Format(time.RFC3339), waited.Round(time.Second)))
	}
	svc.bus.OnDrop = func(sub string) { m.FanoutDropsTotal.WithLabelValues(sub).Inc() }
	svc.health.Pending = h.Pending
	svc.health.Market = markethours.StatusString
}

func (svc *Service) sinkHook(name string) func(d time.Duration, err error) {
	return func(d time.Duration, err error) {
		svc.prom.SinkWriteDur.WithLabelValues(name).Observe(d.Seconds())
		if err != nil {
			svc.prom.SinkErrors.WithLabelValues(name).Inc()
		}
	}
}

// connectSinks opens every configured sink.
func (svc *Service) connectSinks() error {
	cfg := svc.cfg

	if !cfg.Redis.Disabled {
		w, err := redisstore.New(redisstore.WriterConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			LatestTTL:    cfg.Redis.LatestTTL,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		svc.redisWriter = w
		svc.health.Require("redis")

		cb := redisstore.NewCircuitBreaker(cfg.Redis.BreakerFailures, cfg.Redis.BreakerReset)
		cb.OnStateChange = func(from, to redisstore.State) {
			svc.prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				svc.prom.RedisCircuitBreakerTrips.Inc()
				svc.alert(notification.AlertCritical, "redis sink unavailable",
					fmt.Sprintf("circuit breaker %s -> %s, buffering updates locally", from, to))
			}
		}
		bw := redisstore.NewBufferedWriter(context.Background(), w, cb, redisstore.BufferedConfig{
			BatchSize:     cfg.Redis.BatchSize,
			FlushInterval: cfg.Redis.FlushInterval,
			MaxBuffered:   cfg.Redis.MaxBufferedItems,
		})
		bw.OnWrite = svc.sinkHook("redis")
		bw.OnBuffer = func(n int) { svc.prom.RedisBufferedWrites.Add(float64(n)) }
		bw.OnDrop = func(n int) { svc.prom.SinkErrors.WithLabelValues("redis_buffer").Add(float64(n)) }
		svc.sinks = append(svc.sinks, sink{"redis", bw})
	}

	if !cfg.SQLite.Disabled {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
		if err != nil {
			svc.log.Warn().Err(err).Msg("sqlite writer init failed, continuing without bar archive")
		} else {
			svc.sqlWriter = w
			w.OnCommit = func(n int, d time.Duration, err error) { svc.sinkHook("sqlite")(d, err) }
			svc.sinks = append(svc.sinks, sink{"sqlite", w})
			svc.health.Require("sqlite")
			if svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLite.Path); err != nil {
				svc.log.Warn().Err(err).Msg("sqlite reader init failed, continuing without warm-up")
			}
		}
	}

	if cfg.ClickHouse.Host != "" {
		c, err := chstore.NewClient(
			chstore.WithHost(cfg.ClickHouse.Host),
			chstore.WithPort(cfg.ClickHouse.Port),
			chstore.WithDatabase(cfg.ClickHouse.Database),
			chstore.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			chstore.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, true),
		)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = c.InitSchema(ctx, chstore.Schema(cfg.ClickHouse.TTLDays))
			cancel()
			if err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			svc.log.Warn().Err(err).Msg("clickhouse init failed, continuing without columnar store")
		} else {
			svc.chClient = c
			w := chstore.NewWriter(c, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval)
			w.OnWrite = func(_ int, d time.Duration, err error) { svc.sinkHook("clickhouse")(d, err) }
			svc.sinks = append(svc.sinks, sink{"clickhouse", w})
			svc.health.Require("clickhouse")
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafkastore.NewProducer(
			kafkastore.WithBrokers(cfg.Kafka.Brokers),
			kafkastore.WithTopic(cfg.Kafka.Topic),
			kafkastore.WithCompression(cfg.Kafka.Compression),
			kafkastore.WithBatch(cfg.Kafka.BatchSize, cfg.Kafka.Linger),
		)
		if err != nil {
			svc.log.Warn().Err(err).Msg("kafka producer init failed, continuing without notifications")
		} else {
			p.OnWrite = func(_ int, d time.Duration, err error) { svc.sinkHook("kafka")(d, err) }
			svc.sinks = append(svc.sinks, sink{"kafka", p})
		}
	}

	svc.hub = gateway.NewHub(cfg.HTTP.ReplayDepth)
	svc.hub.OnDrop = func() { svc.prom.FanoutDropsTotal.WithLabelValues("ws_client").Inc() }
	svc.sinks = append(svc.sinks, sink{"ws", svc.hub})
	return nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info().Int("symbols", len(cfg.Symbols)).Strs("periods", cfg.WallPeriods).
		Int("sinks", len(svc.sinks)).Msg("starting indicator engine")

	// Warm up before anything can publish.
	if svc.sqlReader != nil {
		since := time.Now().UTC().AddDate(0, 0, -cfg.Engine.HoldDays)
		if _, err := indicator.NewRestorer(svc.holder, svc.sqlReader).Backfill(ctx, since, cfg.Engine.WarmupBars); err != nil {
			return err
		}
	}

	var sinkWG sync.WaitGroup
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range svc.sinks {
		ch := svc.bus.Subscribe(s.name)
		sinkWG.Add(1)
		go func(s sink) {
			defer sinkWG.Done()
			s.impl.Run(sinkCtx, ch)
		}(s)
	}

	if err := svc.scheduleJobs(ctx); err != nil {
		return err
	}
	if err := svc.sched.Start(time.Now()); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.consumeQuotes(ctx)
	}()
	if svc.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.feed.Run(ctx, svc.quotes); err != nil {
				svc.log.Error().Err(err).Msg("feed stopped")
			}
		}()
	}

	var (
		rdb   *goredis.Client
		sqlDB *sql.DB
	)
	if svc.redisWriter != nil {
		rdb = svc.redisWriter.Client()
	}
	if svc.sqlWriter != nil {
		sqlDB = svc.sqlWriter.DB()
	}
	svc.health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	go func() {
		svc.log.Info().Str("addr", cfg.HTTP.Addr).Msg("admin api listening")
		if err := svc.http.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			svc.log.Error().Err(err).Msg("admin api stopped")
		}
	}()

	svc.log.Info().Msg("all systems running")
	<-ctx.Done()

	svc.shutdown(&wg, &sinkWG)
	return nil
}

// shutdown stops intake first, then drains the bus into the sinks.
func (svc *Service) shutdown(intake, sinks *sync.WaitGroup) {
	svc.log.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc.sched.Stop(ctx)
	if err := svc.http.Shutdown(ctx); err != nil {
		svc.log.Warn().Err(err).Msg("admin api shutdown")
	}
	intake.Wait()

	svc.bus.Close()
	done := make(chan struct{})
	go func() {
		sinks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		svc.log.Warn().Msg("sinks did not drain before timeout")
	}
	svc.closeSinks()
	svc.log.Info().Msg("shutdown complete")
}

func (svc *Service) closeSinks() {
	for _, s := range svc.sinks {
		if err := s.impl.Close(); err != nil {
			svc.log.Warn().Err(err).Str("sink", s.name).Msg("close failed")
		}
	}
	if svc.sqlReader != nil {
		_ = svc.sqlReader.Close()
	}
}

// alert delivers asynchronously so callers holding engine locks never wait.
func (svc *Service) alert(level notification.AlertLevel, title, msg string) {
	a := notification.NewAlert(level, title, msg)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.notifier.Send(ctx, a); err != nil {
			svc.log.Warn().Err(err).Str("alert_id", a.ID).Msg("alert delivery failed")
		}
	}()
}
