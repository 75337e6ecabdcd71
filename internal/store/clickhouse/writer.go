package clickhouse

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// Schema returns the DDL of the indicator value table. ttlDays > 0 adds a
// row TTL.
func Schema(ttlDays int) []string {
	ddl := `CREATE TABLE IF NOT EXISTS indicator_values (
	family LowCardinality(String),
	symbol LowCardinality(String),
	period LowCardinality(String),
	ts     DateTime64(3, 'UTC'),
	name   LowCardinality(String),
	value  Float64
) ENGINE = MergeTree
ORDER BY (family, symbol, period, name, ts)`
	if ttlDays > 0 {
		ddl += fmt.Sprintf("\nTTL toDateTime(ts) + INTERVAL %d DAY", ttlDays)
	}
	return []string{ddl}
}

// Row is one stored indicator value.
type Row struct {
	Family string
	Symbol string
	Period string
	TS     time.Time
	Name   string
	Value  float64
}

// Rows flattens an update into one row per finite value, sorted by name.
func Rows(u model.IndicatorUpdate) []Row {
	names := make([]string, 0, len(u.Values))
	for k, v := range u.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Row, 0, len(names))
	for _, n := range names {
		out = append(out, Row{
			Family: string(u.Family),
			Symbol: u.Symbol,
			Period: u.Period,
			TS:     u.TS.UTC(),
			Name:   n,
			Value:  u.Values[n],
		})
	}
	return out
}

// Writer persists indicator values in batches. It implements model.UpdateSink.
type Writer struct {
	client        *Client
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger

	// Metrics hook
	OnWrite func(rows int, d time.Duration, err error)
}

// NewWriter creates a Writer. Zero sizes fall back to 1000 rows / 1s.
func NewWriter(c *Client, batchSize int, flushInterval time.Duration) *Writer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Writer{
		client:        c,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           logger.Component("clickhouse"),
	}
}

// Run batches updates from ch until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.IndicatorUpdate) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]Row, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.Insert(context.WithoutCancel(ctx), batch); err != nil {
			w.log.Error().Err(err).Int("rows", len(batch)).Msg("insert failed, batch dropped")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case u, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, Rows(u)...)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Insert writes rows in one batch.
func (w *Writer) Insert(ctx context.Context, rows []Row) (err error) {
	start := time.Now()
	defer func() {
		if w.OnWrite != nil {
			w.OnWrite(len(rows), time.Since(start), err)
		}
	}()

	tx, err := w.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO indicator_values (family, symbol, period, ts, name, value)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clickhouse prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Family, r.Symbol, r.Period, r.TS, r.Name, r.Value); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clickhouse append: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse commit: %w", err)
	}
	w.log.Debug().Int("rows", len(rows)).Dur("elapsed", time.Since(start)).Msg("inserted")
	return nil
}

// Close closes the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
