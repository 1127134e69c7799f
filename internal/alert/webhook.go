// Package alert forwards high-severity security events to an external
// alerting channel. Delivery is fire-and-forget: a failed notification is
// logged and dropped, never retried into the hot path.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"truxe/security-core/internal/event"
)

const notifyTimeout = 5 * time.Second

// WebhookNotifier POSTs qualifying events as JSON to a configured URL.
type WebhookNotifier struct {
	url      string
	minLevel event.Severity
	client   *http.Client
}

// NewWebhookNotifier returns a notifier for events at or above minLevel.
// Returns nil when url is empty, which callers treat as alerting disabled.
func NewWebhookNotifier(url string, minLevel event.Severity) *WebhookNotifier {
	if url == "" {
		return nil
	}
	return &WebhookNotifier{
		url:      url,
		minLevel: minLevel,
		client:   &http.Client{Timeout: notifyTimeout},
	}
}

// Notify forwards the event when it meets the severity threshold. Errors are
// logged, not returned; alerting trouble must not back-pressure the event
// pipeline. Nil receiver is a no-op.
func (n *WebhookNotifier) Notify(ctx context.Context, ev *event.SecurityEvent) {
	if n == nil || ev == nil || !ev.Severity.AtLeast(n.minLevel) {
		return
	}
	if err := n.post(ctx, ev); err != nil {
		log.Printf("alert: webhook notify for event %s: %v", ev.ID, err)
	}
}

func (n *WebhookNotifier) post(ctx context.Context, ev *event.SecurityEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(opCtx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
