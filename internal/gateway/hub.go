// Package gateway pushes indicator updates to WebSocket clients. Each update
// travels on the channel "FAMILY:SYMBOL:PERIOD" wrapped in an envelope with a
// global and a per-channel sequence number, so clients can detect gaps and
// backfill them from the replay buffer.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub manages WebSocket clients. It implements model.UpdateSink.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
	replayDepth int
	closed      bool

	upgrader websocket.Upgrader
	log      zerolog.Logger

	// OnDrop is called when a slow client misses an envelope.
	OnDrop func()
}

// NewHub creates a Hub keeping replayDepth envelopes per channel.
func NewHub(replayDepth int) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replayDepth: replayDepth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.Component("gateway"),
	}
}

// Run broadcasts updates from ch until ctx is cancelled or ch is closed.
func (h *Hub) Run(ctx context.Context, ch <-chan model.IndicatorUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(u)
		}
	}
}

// Broadcast wraps u in an envelope and sends it to every matching client.
func (h *Hub) Broadcast(u model.IndicatorUpdate) {
	channel := u.Key()
	data := u.JSON()
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	h.channelSeqs[channel]++
	seq, chSeq := h.seq, h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: chSeq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(h.replayDepth)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	// Hand-built envelope; data is already JSON.
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, chSeq, 10)
	buf = append(buf, '}')
	rb.Push(chSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(channel) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the client. An optional
// last_ts query parameter limits the initial state to newer channels.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h, subs: make(map[string]bool)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	c.queueInitialState(r.URL.Query().Get("last_ts"))
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Int("clients", count).Msg("ws client connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// GetReplayRange returns buffered envelopes of channel with per-channel seq
// in [from, to].
func (h *Hub) GetReplayRange(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(from, to)
}

// GetChannelSeq returns the current sequence number of channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.removeClient(c)
	}
	return nil
}
