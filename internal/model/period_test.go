package model

import (
	"testing"
	"time"
)

func TestParseWallClock(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		rank int
	}{
		{"M1", time.Minute, 1},
		{"m5", 5 * time.Minute, 5},
		{"H1", time.Hour, 60},
		{"H4", 4 * time.Hour, 240},
		{"D1", 24 * time.Hour, 1440},
	}
	for _, c := range cases {
		p, err := ParseWallClock(c.in)
		if err != nil {
			t.Fatalf("ParseWallClock(%q): %v", c.in, err)
		}
		if p.Duration != c.want || p.Rank != c.rank || p.Kind != WallClock {
			t.Errorf("ParseWallClock(%q) = %+v", c.in, p)
		}
	}
	for _, bad := range []string{"", "M", "X5", "M0", "M7", "D2"} {
		if _, err := ParseWallClock(bad); err == nil {
			t.Errorf("ParseWallClock(%q) expected error", bad)
		}
	}
}

func TestPeriod_IsDaily(t *testing.T) {
	d1, _ := ParseWallClock("D1")
	h4, _ := ParseWallClock("H4")
	if !d1.IsDaily() || h4.IsDaily() {
		t.Error("only D1 should be daily")
	}
	if NewTickCountPeriod("T100", 100, 0).IsDaily() {
		t.Error("tick period is never daily")
	}
}

func TestSortByRank_TickPeriodsLast(t *testing.T) {
	h1, _ := ParseWallClock("H1")
	m1, _ := ParseWallClock("M1")
	ps := []Period{NewTickPipPeriod("P5", 5, 0), h1, m1}
	SortByRank(ps)
	if ps[0].Name != "M1" || ps[1].Name != "H1" || ps[2].Name != "P5" {
		t.Errorf("order = %v %v %v", ps[0], ps[1], ps[2])
	}
}

func TestParseCalcPeriod(t *testing.T) {
	cp, err := ParseCalcPeriod("12-26-9")
	if err != nil {
		t.Fatal(err)
	}
	if cp.Name != "12-26-9" || cp.Size(0) != 12 || cp.Size(1) != 26 || cp.Size(2) != 9 || cp.Size(3) != 0 {
		t.Errorf("got %+v", cp)
	}
	for _, bad := range []string{"", "a", "12--9", "0", "-3"} {
		if _, err := ParseCalcPeriod(bad); err == nil {
			t.Errorf("ParseCalcPeriod(%q) expected error", bad)
		}
	}
}
