package model

import (
	"context"
	"time"
)

// ── Sink Port Interfaces ──
// These interfaces decouple the engine from concrete sinks (Redis, Kafka,
// ClickHouse, SQLite). Each implementation satisfies one or more of them.

// UpdateSink consumes indicator updates delivered by the bus.
type UpdateSink interface {
	// Run reads updates from ch until ctx is cancelled or ch is closed.
	Run(ctx context.Context, ch <-chan IndicatorUpdate)

	// Close releases underlying resources.
	Close() error
}

// BarWriter archives finalized bars.
type BarWriter interface {
	// WriteBars writes a batch of bars in one transaction.
	WriteBars(ctx context.Context, bars []Bar) error

	// Close releases underlying resources.
	Close() error
}

// BarReader reads archived bars for warm-up and replay.
type BarReader interface {
	// ReadBars returns the newest limit bars for symbol/period stamped after
	// since, oldest first. limit <= 0 means no limit.
	ReadBars(ctx context.Context, symbol, period string, since time.Time, limit int) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// QuoteSource produces quotes until ctx is cancelled.
type QuoteSource interface {
	Run(ctx context.Context, out chan<- Quote) error
}
