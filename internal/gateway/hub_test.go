package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fxindicators/internal/model"
)

func update(family, symbol, period string, v float64) model.IndicatorUpdate {
	return model.IndicatorUpdate{
		Family: model.Family(family),
		Symbol: symbol,
		Period: period,
		TS:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Values: map[string]float64{"close": v},
	}
}

func dial(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial"`
}

// readEnvelopes splits a possibly coalesced frame.
func readEnvelopes(t *testing.T, conn *websocket.Conn) []envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out []envelope
	for _, line := range strings.Split(string(raw), "\n") {
		var e envelope
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestHub_BroadcastsEnvelope(t *testing.T) {
	h := NewHub(10)
	conn := dial(t, h, "")
	waitClients(t, h, 1)

	h.Broadcast(update("OHLC", "EURUSD", "M1", 1.1))

	got := readEnvelopes(t, conn)
	if len(got) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(got))
	}
	if got[0].Channel != "OHLC:EURUSD:M1" || got[0].Seq != 1 || got[0].ChannelSeq != 1 {
		t.Errorf("envelope = %+v", got[0])
	}
	var u model.IndicatorUpdate
	if err := json.Unmarshal(got[0].Data, &u); err != nil {
		t.Fatalf("data: %v", err)
	}
	if u.Values["close"] != 1.1 {
		t.Errorf("close = %v, want 1.1", u.Values["close"])
	}
}

func TestHub_SubscriptionFilters(t *testing.T) {
	h := NewHub(10)
	conn := dial(t, h, "")
	waitClients(t, h, 1)

	sub := `{"type":"subscribe","channels":["ma:*:M5"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatal(err)
	}
	// Ping round-trip guarantees the subscription was applied.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":7}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(raw), `"ping":7`) {
		t.Fatalf("pong = %s, %v", raw, err)
	}

	h.Broadcast(update("MA", "EURUSD", "M1", 1))
	h.Broadcast(update("MA", "GBPUSD", "M5", 2))

	got := readEnvelopes(t, conn)
	if len(got) != 1 || got[0].Channel != "MA:GBPUSD:M5" {
		t.Errorf("got %+v, want only MA:GBPUSD:M5", got)
	}
}

func TestHub_InitialStateOnConnect(t *testing.T) {
	h := NewHub(10)
	h.Broadcast(update("RSI", "USDJPY", "H1", 55))

	conn := dial(t, h, "")
	got := readEnvelopes(t, conn)
	if len(got) != 1 || !got[0].Initial || got[0].Channel != "RSI:USDJPY:H1" {
		t.Errorf("initial = %+v", got)
	}
}

func TestHub_ReplayRangeAndSeq(t *testing.T) {
	h := NewHub(3)
	for i := 1; i <= 5; i++ {
		h.Broadcast(update("MA", "EURUSD", "M1", float64(i)))
	}
	h.Broadcast(update("MA", "EURUSD", "M5", 9))

	if seq := h.GetChannelSeq("MA:EURUSD:M1"); seq != 5 {
		t.Fatalf("channel seq = %d, want 5", seq)
	}
	got := h.GetReplayRange("MA:EURUSD:M1", 1, 5)
	if len(got) != 3 {
		t.Fatalf("replay len = %d, want 3 (capacity)", len(got))
	}
	for i, raw := range got {
		var e envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			t.Fatal(err)
		}
		if want := int64(i + 3); e.ChannelSeq != want {
			t.Errorf("replay[%d] channel_seq = %d, want %d", i, e.ChannelSeq, want)
		}
	}
	if got := h.GetReplayRange("MA:EURUSD:H1", 1, 5); got != nil {
		t.Errorf("unknown channel replay = %d entries", len(got))
	}
}

func TestHub_RunStopsOnClose(t *testing.T) {
	h := NewHub(10)
	ch := make(chan model.IndicatorUpdate, 4)
	done := make(chan struct{})
	go func() {
		h.Run(context.Background(), ch)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		ch <- update("MA", "EURUSD", fmt.Sprintf("M%d", i+1), 1)
	}
	close(ch)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	if seq := h.GetChannelSeq("MA:EURUSD:M3"); seq != 1 {
		t.Errorf("M3 seq = %d, want 1", seq)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, channel string
		want             bool
	}{
		{"MA:EURUSD:M1", "MA:EURUSD:M1", true},
		{"*:EURUSD:*", "RSI:EURUSD:H4", true},
		{"*:*:*", "OHLC:GBPUSD:D1", true},
		{"MA:EURUSD", "MA:EURUSD:M1", false},
		{"MA:GBPUSD:M1", "MA:EURUSD:M1", false},
	}
	for _, c := range cases {
		if got := matchPattern(c.pattern, c.channel); got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.pattern, c.channel, got, c.want)
		}
	}
}

func TestReplayBuffer_Wraps(t *testing.T) {
	rb := NewReplayBuffer(2)
	if got := rb.Range(1, 10); got != nil {
		t.Fatalf("empty range = %v", got)
	}
	rb.Push(1, []byte("a"))
	rb.Push(2, []byte("b"))
	rb.Push(3, []byte("c"))
	if rb.Len() != 2 {
		t.Fatalf("len = %d, want 2", rb.Len())
	}
	got := rb.Range(0, 10)
	if len(got) != 2 || string(got[0]) != "b" || string(got[1]) != "c" {
		t.Errorf("range = %q", got)
	}
	if got := rb.Range(3, 3); len(got) != 1 || string(got[0]) != "c" {
		t.Errorf("single = %q", got)
	}
}
