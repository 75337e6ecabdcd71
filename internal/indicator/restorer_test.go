package indicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"fxindicators/internal/model"
)

type stubReader struct {
	bars  map[string][]model.Bar
	fail  map[string]bool
	calls int
}

func (r *stubReader) ReadBars(_ context.Context, symbol, period string, _ time.Time, _ int) ([]model.Bar, error) {
	r.calls++
	if r.fail[period] {
		return nil, errors.New("disk gone")
	}
	return r.bars[symbol+":"+period], nil
}

func (r *stubReader) Close() error { return nil }

func archived(period string, ts time.Time, close float64) model.Bar {
	b := model.NewBar("EURUSD", period, ts)
	b.Update(close, close)
	return *b
}

func TestRestorer_BackfillWarmsSilently(t *testing.T) {
	h, pub := newTestHolder(t, []model.Period{mustPeriod(t, "M1"), mustPeriod(t, "M5")}, model.FamilyMA)
	reader := &stubReader{
		bars: map[string][]model.Bar{
			"EURUSD:M1": {
				archived("M1", at(-2, 0), 1.1),
				archived("M1", at(-1, 0), 1.2),
				{Symbol: "EURUSD", Period: "M1", TS: at(0, 0)}, // never saw a price
			},
		},
		fail: map[string]bool{"M5": true},
	}

	n, err := NewRestorer(h, reader).Backfill(context.Background(), t0.Add(-time.Hour), 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("replayed %d bars, want 2", n)
	}
	if reader.calls != 2 {
		t.Errorf("reader calls = %d", reader.calls)
	}
	if pub.count() != 0 {
		t.Errorf("warm-up published %d updates", pub.count())
	}
	ma, _ := h.Registry().Series(model.FamilyMA, "EURUSD", "M1")
	assertClose(t, "warm MA", ma.Last(0, 0), 1.15, 1e-12)

	// A silent first interval after restart repeats the last archived close.
	h.ChangePeriod("M1", at(0, 0), at(1, 0))
	h.ChangePeriod("M1", at(1, 0), at(2, 0))
	assertClose(t, "flat close", lastClose(t, h, "M1"), 1.2, 1e-12)
}

func TestRestorer_Cancelled(t *testing.T) {
	h, _ := newTestHolder(t, []model.Period{mustPeriod(t, "M1")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRestorer(h, &stubReader{}).Backfill(ctx, t0, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
