package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"fxindicators/internal/marketdata/agg"
	"fxindicators/internal/model"
)

func bar(min int, close float64) model.Bar {
	b := model.NewBar("EURUSD", "M1", time.Date(2026, 3, 2, 10, min, 0, 0, time.UTC))
	b.Update(close, close+0.0002)
	return *b
}

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r
}

func TestWriteAndReadBars(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()

	var bars []model.Bar
	for i := 1; i <= 5; i++ {
		bars = append(bars, bar(i, 1.1+float64(i)*0.001))
	}
	if err := w.WriteBars(ctx, bars); err != nil {
		t.Fatal(err)
	}
	// replacing a key keeps one row
	if err := w.WriteBars(ctx, []model.Bar{bar(5, 1.2)}); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadBars(ctx, "EURUSD", "M1", time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars", len(got))
	}
	if got[0].TS.Minute() != 3 || got[2].TS.Minute() != 5 {
		t.Errorf("order = %v .. %v", got[0].TS, got[2].TS)
	}
	if got[2].CloseBid != 1.2 || got[2].Ticks != 1 || !got[2].Initialized {
		t.Errorf("last bar = %+v", got[2])
	}

	all, _ := r.ReadBars(ctx, "EURUSD", "M1", time.Time{}, 0)
	if len(all) != 5 {
		t.Errorf("unbounded read = %d bars", len(all))
	}
	other, _ := r.ReadBars(ctx, "EURUSD", "M5", time.Time{}, 0)
	if len(other) != 0 {
		t.Errorf("M5 read = %d bars", len(other))
	}
}

func TestRunArchivesOnlyBars(t *testing.T) {
	w, r := openPair(t)
	var commits int
	w.OnCommit = func(n int, _ time.Duration, err error) {
		if err == nil {
			commits += n
		}
	}

	b := bar(1, 1.1)
	ch := make(chan model.IndicatorUpdate, 3)
	ch <- model.IndicatorUpdate{Family: model.FamilyOHLC, Symbol: "EURUSD", Period: "M1", TS: b.TS, Bar: &b}
	ch <- model.IndicatorUpdate{Family: model.FamilyMA, Symbol: "EURUSD", Period: "M1", TS: b.TS}
	close(ch)
	w.Run(context.Background(), ch)

	if commits != 1 {
		t.Errorf("committed %d bars", commits)
	}
	got, _ := r.ReadBars(context.Background(), "EURUSD", "M1", time.Time{}, 0)
	if len(got) != 1 {
		t.Errorf("archived %d bars", len(got))
	}
}

func TestDeleteBefore(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	w.WriteBars(ctx, []model.Bar{bar(1, 1.1), bar(2, 1.1), bar(3, 1.1)})

	n, err := w.DeleteBefore(ctx, time.Date(2026, 3, 2, 10, 3, 0, 0, time.UTC))
	if err != nil || n != 2 {
		t.Fatalf("deleted %d, err %v", n, err)
	}
	got, _ := r.ReadBars(ctx, "EURUSD", "M1", time.Time{}, 0)
	if len(got) != 1 {
		t.Errorf("left %d bars", len(got))
	}

	n, err = w.DeleteBefore(ctx, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), "M1")
	if err != nil || n != 0 {
		t.Errorf("kept period deleted %d, err %v", n, err)
	}
}

func TestWriteBars_KeepsTickBarsSharingTimestamp(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()

	// one quote jumping three pips closes three P1 bars stamped with its ts
	sym := model.Symbol{Name: "EURUSD", Digits: 5, PipSize: 0.001}
	m := agg.NewLatestMap(sym, []model.Period{model.NewTickPipPeriod("P1", 1, 0)})
	ts := time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC)
	m.Update(model.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1000, TS: ts.Add(-time.Second)})
	closed := m.Update(model.Quote{Symbol: "EURUSD", Bid: 1.1035, Ask: 1.1035, TS: ts})
	if len(closed) != 3 {
		t.Fatalf("closed %d bars, want 3", len(closed))
	}

	// split across batches the way Run flushes them
	if err := w.WriteBars(ctx, closed[:2]); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBars(ctx, closed[2:]); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadBars(ctx, "EURUSD", "P1", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d bars, want 3", len(got))
	}
	for i, b := range got {
		want := 1.101 + float64(i)*0.001
		if math.Abs(b.CloseBid-want) > 1e-9 || !b.TS.Equal(ts) {
			t.Errorf("bar %d = %v @ %v, want %v @ %v", i, b.CloseBid, b.TS, want, ts)
		}
	}

	newest, _ := r.ReadBars(ctx, "EURUSD", "P1", time.Time{}, 2)
	if len(newest) != 2 || math.Abs(newest[1].CloseBid-1.103) > 1e-9 {
		t.Errorf("newest two = %+v", newest)
	}
}

func TestWriteBars_TickSeqSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC)
	tick := func(close float64) model.Bar {
		b := model.NewBar("EURUSD", "T10", ts)
		b.Update(close, close)
		return *b
	}

	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBars(ctx, []model.Bar{tick(1.1), tick(1.2)}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	w, err = New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	if err := w.WriteBars(ctx, []model.Bar{tick(1.3)}); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	got, _ := r.ReadBars(ctx, "EURUSD", "T10", time.Time{}, 0)
	if len(got) != 3 || got[0].CloseBid != 1.1 || got[2].CloseBid != 1.3 {
		t.Errorf("bars = %+v", got)
	}
}

func TestNew_MigratesArchiveWithoutSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	db, err := open(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`
		CREATE TABLE bars (
			symbol TEXT NOT NULL, period TEXT NOT NULL, ts INTEGER NOT NULL,
			open_bid REAL NOT NULL, open_ask REAL NOT NULL, high_bid REAL NOT NULL, high_ask REAL NOT NULL,
			low_bid REAL NOT NULL, low_ask REAL NOT NULL, close_bid REAL NOT NULL, close_ask REAL NOT NULL,
			ticks INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, period, ts)
		);
		INSERT INTO bars VALUES ('EURUSD', 'M1', 1772445600000, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1.1, 1);`)
	db.Close()
	if err != nil {
		t.Fatal(err)
	}

	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	if err := w.WriteBars(context.Background(), []model.Bar{bar(1, 1.2)}); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadBars(context.Background(), "EURUSD", "M1", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].CloseBid != 1.1 || got[1].CloseBid != 1.2 {
		t.Errorf("bars = %+v", got)
	}
}
