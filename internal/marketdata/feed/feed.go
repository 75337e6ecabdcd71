// Package feed provides a WebSocket client that streams FX quotes into the
// engine. Each text frame carries one JSON quote:
//
//	{"symbol":"EURUSD","bid":1.08412,"ask":1.08415,"ts":"2026-03-02T10:00:00.123Z"}
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
	"fxindicators/internal/model"
)

// Config holds configuration for the quote client.
type Config struct {
	// URL of the quote WebSocket server, e.g. "ws://localhost:9001/quotes".
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// ReadTimeout closes a silent connection. Zero disables it.
	ReadTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Client connects to a JSON quote server and pushes quotes into a channel.
type Client struct {
	cfg Config
	log zerolog.Logger

	// Optional hooks
	OnConnect   func()
	OnReconnect func()
	OnInvalid   func(reason string)
}

// New creates a Client. Returns an error if the URL is unparseable.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url: unsupported scheme %q", u.Scheme)
	}
	return &Client{cfg: cfg, log: logger.Component("feed")}, nil
}

// Run connects and streams quotes into out until ctx is cancelled,
// reconnecting with exponential backoff on disconnect.
func (c *Client) Run(ctx context.Context, out chan<- model.Quote) error {
	delay := c.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		received, err := c.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if received {
			delay = c.cfg.ReconnectDelay
		}

		c.log.Warn().Err(err).Dur("retry_in", delay).Msg("disconnected, reconnecting")
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. received reports whether any quote got through.
func (c *Client) runOnce(ctx context.Context, out chan<- model.Quote) (received bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	c.log.Info().Str("url", c.cfg.URL).Msg("connected")
	if c.OnConnect != nil {
		c.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, nil
			}
			return received, err
		}

		q, err := Decode(raw)
		if err != nil {
			c.log.Debug().Err(err).Bytes("raw", raw).Msg("quote rejected")
			if c.OnInvalid != nil {
				c.OnInvalid(reason(err))
			}
			continue
		}

		select {
		case out <- q:
			received = true
		case <-ctx.Done():
			return received, nil
		}
	}
}

var (
	ErrMalformed   = errors.New("malformed quote")
	ErrEmptySymbol = errors.New("empty symbol")
	ErrBadPrice    = errors.New("non-positive or crossed price")
)

// Decode parses one wire quote. A missing timestamp is filled with the
// current time.
func Decode(raw []byte) (model.Quote, error) {
	var q model.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return q, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if q.Symbol == "" {
		return q, ErrEmptySymbol
	}
	if q.Bid <= 0 || q.Ask < q.Bid {
		return q, fmt.Errorf("%w: bid=%v ask=%v", ErrBadPrice, q.Bid, q.Ask)
	}
	if q.TS.IsZero() {
		q.TS = time.Now()
	}
	q.TS = q.TS.UTC()
	return q, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptySymbol):
		return "empty_symbol"
	case errors.Is(err, ErrBadPrice):
		return "bad_price"
	default:
		return "malformed"
	}
}
