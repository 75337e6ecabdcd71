// Command quotesim serves simulated FX quotes over WebSocket in the format
// the engine's feed client reads, so the engine can run without a broker.
//
// Config (env vars):
//
//	QUOTESIM_ADDR         listen address (default ":9001")
//	QUOTESIM_SYMBOLS      comma-separated SYMBOL:PRICE pairs (default "EURUSD:1.0850,GBPUSD:1.2700,USDJPY:150.20")
//	QUOTESIM_INTERVAL_MS  quote interval in milliseconds (default "250")
package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

type instrument struct {
	Symbol string
	Mid    decimal.Decimal
	Digits int32
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop quote
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info().Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()

		for msg := range ch {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// step moves mid by up to two points and returns a quote with a one to three
// point spread around it.
func step(rng *rand.Rand, in *instrument, now time.Time) model.Quote {
	point := decimal.New(1, -in.Digits)
	in.Mid = in.Mid.Add(point.Mul(decimal.NewFromInt(int64(rng.Intn(5) - 2))))
	if in.Mid.Sign() <= 0 {
		in.Mid = point
	}
	half := point.Mul(decimal.NewFromInt(int64(rng.Intn(3) + 1))).Div(decimal.NewFromInt(2))
	bid, _ := in.Mid.Sub(half).Round(in.Digits).Float64()
	ask, _ := in.Mid.Add(half).Round(in.Digits).Float64()
	return model.Quote{Symbol: in.Symbol, Bid: bid, Ask: ask, TS: now.UTC()}
}

func runGenerator(ctx context.Context, h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for i := range instruments {
				b, err := json.Marshal(step(rng, &instruments[i], now))
				if err != nil {
					continue
				}
				h.broadcast(b)
			}
		}
	}
}

func main() {
	logger.Init("quotesim", os.Getenv("FXIND_LOG_LEVEL"))

	addr := envOrDefault("QUOTESIM_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("QUOTESIM_SYMBOLS", "EURUSD:1.0850,GBPUSD:1.2700,USDJPY:150.20"))
	interval := time.Duration(envIntOrDefault("QUOTESIM_INTERVAL_MS", 250)) * time.Millisecond
	if len(instruments) == 0 {
		log.Fatal().Msg("no instruments configured via QUOTESIM_SYMBOLS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go runGenerator(ctx, h, instruments, interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/quotes", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","service":"quotesim"}`))
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Int("symbols", len(instruments)).Dur("interval", interval).Msg("listening on /quotes")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

// parseInstruments reads SYMBOL:PRICE pairs. Digits follow the written price
// with a floor of 3 (JPY crosses) or 5.
func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		seg := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(seg) != 2 {
			log.Warn().Str("entry", part).Msg("skipping invalid symbol entry")
			continue
		}
		mid, err := decimal.NewFromString(strings.TrimSpace(seg[1]))
		if err != nil || mid.Sign() <= 0 {
			log.Warn().Str("entry", part).Msg("skipping invalid price")
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(seg[0]))
		digits := int32(5)
		if strings.HasSuffix(sym, "JPY") {
			digits = 3
		}
		result = append(result, instrument{Symbol: sym, Mid: mid, Digits: digits})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
