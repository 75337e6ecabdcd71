package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"fxindicators/internal/model"
)

type fakePipeline struct {
	mu      sync.Mutex
	fail    bool
	written []model.IndicatorUpdate
	flushed chan struct{}
}

func (f *fakePipeline) WriteBatch(_ context.Context, updates []model.IndicatorUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFail
	}
	f.written = append(f.written, updates...)
	return nil
}

func (f *fakePipeline) Close() error { return nil }

func (f *fakePipeline) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakePipeline) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func updates(n int) []model.IndicatorUpdate {
	out := make([]model.IndicatorUpdate, n)
	for i := range out {
		out[i] = model.IndicatorUpdate{Family: model.FamilyMA, Symbol: "EURUSD", Period: "M1",
			TS: time.Date(2026, 3, 2, 10, i, 0, 0, time.UTC)}
	}
	return out
}

func TestBufferedWriter_BuffersDuringOutageAndFlushesOnClose(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	pipe := &fakePipeline{}
	bw := NewBufferedWriter(context.Background(), pipe, cb, BufferedConfig{BatchSize: 2})
	flushed := make(chan int, 1)
	bw.OnFlush = func(n int) { flushed <- n }

	pipe.setFail(true)
	bw.Write(updates(2)) // fails, trips the breaker
	bw.Write(updates(1)) // rejected while open
	if cb.CurrentState() != StateOpen || bw.PendingCount() != 3 {
		t.Fatalf("state=%v pending=%d", cb.CurrentState(), bw.PendingCount())
	}

	pipe.setFail(false)
	clk.advance(time.Second)
	bw.Write(updates(1)) // trial write succeeds, closes the breaker

	select {
	case n := <-flushed:
		if n != 3 {
			t.Errorf("flushed %d, want 3", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffer was not flushed after recovery")
	}
	if pipe.count() != 4 || bw.PendingCount() != 0 {
		t.Errorf("written=%d pending=%d", pipe.count(), bw.PendingCount())
	}
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	pipe := &fakePipeline{fail: true}
	bw := NewBufferedWriter(context.Background(), pipe, cb, BufferedConfig{MaxBuffered: 3})
	dropped := 0
	bw.OnDrop = func(n int) { dropped += n }

	bw.Write(updates(2))
	bw.Write(updates(2))
	if bw.PendingCount() != 3 || dropped != 1 {
		t.Errorf("pending=%d dropped=%d", bw.PendingCount(), dropped)
	}
}

func TestBufferedWriter_RunFlushesPartialBatchOnClose(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	pipe := &fakePipeline{}
	bw := NewBufferedWriter(context.Background(), pipe, cb, BufferedConfig{BatchSize: 10, FlushInterval: time.Hour})

	ch := make(chan model.IndicatorUpdate, 3)
	for _, u := range updates(3) {
		ch <- u
	}
	close(ch)
	bw.Run(context.Background(), ch)
	if pipe.count() != 3 {
		t.Errorf("written = %d", pipe.count())
	}
}

func TestKeys(t *testing.T) {
	u := model.IndicatorUpdate{Family: model.FamilyRSI, Symbol: "USDJPY", Period: "H1"}
	if LatestKey(u) != "ind:RSI:USDJPY:H1" || ChannelKey(u) != "pub:ind:RSI:USDJPY:H1" || StreamKey(u.Family) != "ind:stream:RSI" {
		t.Errorf("keys = %s %s %s", LatestKey(u), ChannelKey(u), StreamKey(u.Family))
	}
}
