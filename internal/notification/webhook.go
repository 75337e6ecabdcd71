package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fxindicators/internal/logger"
)

const deliveryTimeout = 10 * time.Second

// WebhookNotifier delivers each alert as its JSON encoding. The alert id is
// repeated in the X-Alert-ID header so receivers can drop redeliveries.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: deliveryTimeout},
		log:      logger.Component("webhook"),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	hdr := http.Header{}
	hdr.Set("X-Alert-ID", alert.ID)
	hdr.Set("X-Alert-Level", string(alert.Level))
	status, err := postJSON(ctx, w.client, w.endpoint, alert, hdr)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", alert.ID, err)
	}
	if status/100 != 2 {
		return fmt.Errorf("webhook %s: endpoint answered %d", alert.ID, status)
	}
	w.log.Debug().Str("alert_id", alert.ID).Str("level", string(alert.Level)).Int("status", status).Msg("alert delivered")
	return nil
}

// postJSON POSTs v as JSON and returns the response status. The body is
// drained so the connection can be reused.
func postJSON(ctx context.Context, c *http.Client, url string, v any, hdr http.Header) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	for k, vals := range hdr {
		req.Header[k] = vals
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
