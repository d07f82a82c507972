package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/latencyguard/internal/dispatch"
)

// DefaultWebhookMaxBytes keeps each Slack-style message well below platform limits.
const DefaultWebhookMaxBytes = 3500

// Webhook posts the digest as {"text": ...} messages, one per page.
type Webhook struct {
	name       string
	url        string
	maxBytes   int
	httpClient *http.Client
}

// NewWebhook constructs a webhook channel.
func NewWebhook(name, url string, maxBytes int, timeout time.Duration) *Webhook {
	if maxBytes <= 0 {
		maxBytes = DefaultWebhookMaxBytes
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		name:       name,
		url:        strings.TrimSpace(url),
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements dispatch.Channel.
func (w *Webhook) Name() string { return w.name }

// Deliver implements dispatch.Channel. Pages are posted in order; the first failure
// aborts the delivery.
func (w *Webhook) Deliver(ctx context.Context, d dispatch.Digest) error {
	pages := d.Pages(w.maxBytes)
	for i, page := range pages {
		if err := w.postJSON(ctx, map[string]string{"text": page}); err != nil {
			return fmt.Errorf("page %d/%d: %w", i+1, len(pages), err)
		}
	}
	return nil
}

func (w *Webhook) postJSON(ctx context.Context, payload any) error {
	if w.url == "" {
		return fmt.Errorf("empty webhook url")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
