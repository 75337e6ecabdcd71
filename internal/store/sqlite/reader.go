package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// Reader provides read-only access to the bar archive for warm-up.
// It implements model.BarReader.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	log := logger.Component("sqlite")
	log.Info().Str("path", dbPath).Msg("opened reader")
	return &Reader{db: db}, nil
}

// ReadBars returns the newest limit bars of symbol/period stamped after
// since, oldest first. Bars sharing a timestamp come back in archive order. limit <= 0 returns every bar after since.
func (r *Reader) ReadBars(ctx context.Context, symbol, period string, since time.Time, limit int) ([]model.Bar, error) {
	q := `
		SELECT ts, open_bid, open_ask, high_bid, high_ask, low_bid, low_ask, close_bid, close_ask, ticks
		FROM bars
		WHERE symbol = ? AND period = ? AND ts > ?
		ORDER BY ts DESC, seq DESC`
	args := []any{symbol, period, since.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b := model.Bar{Symbol: symbol, Period: period, Initialized: true}
		var tsMilli int64
		if err := rows.Scan(&tsMilli, &b.OpenBid, &b.OpenAsk, &b.HighBid, &b.HighAsk,
			&b.LowBid, &b.LowAsk, &b.CloseBid, &b.CloseAsk, &b.Ticks); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(tsMilli).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest first from the query; callers replay oldest first
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
