package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultStreamMaxLen = 10000
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // TTL of the latest-value keys; 0 means 30m
	StreamMaxLen int64         // approximate cap of each family stream; 0 means 10000
}

// Writer publishes indicator updates to Redis. For each update it sets the
// latest-value key, appends to the family stream and publishes on the
// series channel, all in one pipeline per batch.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration
	maxLen int64
	log    zerolog.Logger
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	w := &Writer{
		client: client,
		ttl:    cfg.LatestTTL,
		maxLen: cfg.StreamMaxLen,
		log:    logger.Component("redis"),
	}
	if w.ttl <= 0 {
		w.ttl = defaultLatestTTL
	}
	if w.maxLen <= 0 {
		w.maxLen = defaultStreamMaxLen
	}
	w.log.Info().Str("addr", cfg.Addr).Msg("connected")
	return w, nil
}

// LatestKey is the key holding the newest update of one series.
func LatestKey(u model.IndicatorUpdate) string {
	return "ind:" + string(u.Family) + ":" + u.Symbol + ":" + u.Period
}

// ChannelKey is the pub/sub channel of one series.
func ChannelKey(u model.IndicatorUpdate) string {
	return "pub:" + LatestKey(u)
}

// StreamKey is the stream shared by every series of a family.
func StreamKey(f model.Family) string {
	return "ind:stream:" + string(f)
}

// WriteBatch writes updates in a single pipeline: SET + XADD + PUBLISH per
// update, one network roundtrip in total.
func (w *Writer) WriteBatch(ctx context.Context, updates []model.IndicatorUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range updates {
		u := &updates[i]
		payload := string(u.JSON())
		pipe.Set(ctx, LatestKey(*u), payload, w.ttl)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamKey(u.Family),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"symbol": u.Symbol,
				"period": u.Period,
				"data":   payload,
			},
		})
		pipe.Publish(ctx, ChannelKey(*u), payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d updates): %w", len(updates), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
