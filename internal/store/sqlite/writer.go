package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer archives finalized bars with transaction batching. As an update
// sink it keeps only the OHLC updates, which carry the bar.
type Writer struct {
	db  *sql.DB
	log zerolog.Logger

	// Tick-driven bars closed by one quote share its timestamp; seq keeps
	// them apart. last tracks the newest ts and seq per symbol:period.
	mu   sync.Mutex
	last map[string]barKey

	// Metrics hook
	OnCommit func(n int, d time.Duration, err error)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func open(path string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	// single writer
	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{db: db, log: logger.Component("sqlite"), last: make(map[string]barKey)}
	w.log.Info().Str("path", cfg.DBPath).Msg("opened database")
	return w, nil
}

type barKey struct {
	ts  int64
	seq int
}

const barsTable = `
	CREATE TABLE IF NOT EXISTS bars (
		symbol    TEXT    NOT NULL,
		period    TEXT    NOT NULL,
		ts        INTEGER NOT NULL,
		seq       INTEGER NOT NULL DEFAULT 0,
		open_bid  REAL    NOT NULL,
		open_ask  REAL    NOT NULL,
		high_bid  REAL    NOT NULL,
		high_ask  REAL    NOT NULL,
		low_bid   REAL    NOT NULL,
		low_ask   REAL    NOT NULL,
		close_bid REAL    NOT NULL,
		close_ask REAL    NOT NULL,
		ticks     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, period, ts, seq)
	);`

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(barsTable); err != nil {
		return err
	}
	return migrateSeq(db)
}

// migrateSeq rebuilds an archive created without the seq column. Existing
// rows keep seq 0.
func migrateSeq(db *sql.DB) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('bars') WHERE name = 'seq'`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	const cols = `symbol, period, ts, open_bid, open_ask, high_bid, high_ask, low_bid, low_ask, close_bid, close_ask, ticks`
	for _, stmt := range []string{
		`ALTER TABLE bars RENAME TO bars_old`,
		barsTable,
		`INSERT INTO bars (` + cols + `) SELECT ` + cols + ` FROM bars_old`,
		`DROP TABLE bars_old`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate bars: %w", err)
		}
	}
	return tx.Commit()
}

// nextSeq returns the seq of b. Wall-clock bars always take 0 so a rewrite
// replaces the archived row. Tick bars count up within their timestamp,
// continuing from the archive after a restart. The caller holds w.mu.
func (w *Writer) nextSeq(ctx context.Context, tx *sql.Tx, b model.Bar) (int, error) {
	if _, err := model.ParseWallClock(b.Period); err == nil {
		return 0, nil
	}
	k := b.Symbol + ":" + b.Period
	ts := b.TS.UnixMilli()
	last, ok := w.last[k]
	if !ok || last.ts != ts {
		var top sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(seq) FROM bars WHERE symbol = ? AND period = ? AND ts = ?`,
			b.Symbol, b.Period, ts).Scan(&top); err != nil {
			return 0, err
		}
		last = barKey{ts: ts, seq: -1}
		if top.Valid {
			last.seq = int(top.Int64)
		}
	}
	last.seq++
	w.last[k] = last
	return last.seq, nil
}

// Run reads updates from ch and archives the bars they carry in batched
// transactions. Flushes every batch size bars OR every flush delay,
// whichever first. Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.IndicatorUpdate) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// shutdown must not lose the last batch
		if err := w.WriteBars(context.WithoutCancel(ctx), batch); err != nil {
			w.log.Error().Err(err).Int("bars", len(batch)).Msg("batch insert failed")
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
			if u.Bar == nil {
				continue
			}
			batch = append(batch, *u.Bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// WriteBars inserts bars in a single transaction. Bars of one period that
// share a timestamp are numbered in arrival order; a bar already archived
// under the same key is replaced.
func (w *Writer) WriteBars(ctx context.Context, bars []model.Bar) (err error) {
	start := time.Now()
	defer func() {
		if w.OnCommit != nil {
			w.OnCommit(len(bars), time.Since(start), err)
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, period, ts, seq, open_bid, open_ask, high_bid, high_ask,
			low_bid, low_ask, close_bid, close_ask, ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		seq, err := w.nextSeq(ctx, tx, b)
		if err == nil {
			_, err = stmt.ExecContext(ctx, b.Symbol, b.Period, b.TS.UnixMilli(), seq,
				b.OpenBid, b.OpenAsk, b.HighBid, b.HighAsk, b.LowBid, b.LowAsk, b.CloseBid, b.CloseAsk, b.Ticks)
		}
		if err != nil {
			tx.Rollback()
			clear(w.last)
			return fmt.Errorf("sqlite insert %s: %w", b.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		clear(w.last)
		return fmt.Errorf("sqlite commit: %w", err)
	}
	w.log.Debug().Int("bars", len(bars)).Dur("elapsed", time.Since(start)).Msg("committed")
	return nil
}

// DeleteBefore removes archived bars stamped before cutoff, except those of
// the keep periods, and returns the number removed.
func (w *Writer) DeleteBefore(ctx context.Context, cutoff time.Time, keep ...string) (int64, error) {
	query := `DELETE FROM bars WHERE ts < ?`
	args := []any{cutoff.UnixMilli()}
	if len(keep) > 0 {
		query += ` AND period NOT IN (?` + strings.Repeat(`, ?`, len(keep)-1) + `)`
		for _, p := range keep {
			args = append(args, p)
		}
	}
	res, err := w.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
