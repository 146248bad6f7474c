// Package webhook POSTs sweep completion events as JSON.
//
// Network errors, 408, 429 and 5xx answers are retried with backoff. Any
// other non-2xx answer fails at once. Every attempt for one event carries
// the same Idempotency-Key so the receiver can drop duplicates.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/ndsagent/adapter"
	"github.com/justapithecus/ndsagent/iox"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
)

// Headers set on every POST. Configured headers cannot override them.
const (
	HeaderEvent          = "X-Ndsagent-Event"
	HeaderAgent          = "X-Ndsagent-Agent"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config configures the webhook adapter.
type Config struct {
	URL     string // required
	Headers map[string]string
	Timeout time.Duration
	Retries int
}

// Adapter publishes sweep completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// StatusError is a non-2xx answer from the receiver.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retryable reports whether the receiver may accept the same POST later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IdempotencyKey identifies one sweep of one link.
func IdempotencyKey(event *adapter.SweepCompletedEvent) string {
	return event.AgentID + "/" + event.LinkID + "/" + event.StartedAt
}

// Publish POSTs the event, retrying transient failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SweepCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	header := http.Header{}
	for k, v := range a.config.Headers {
		header.Set(k, v)
	}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, event.EventType)
	header.Set(HeaderAgent, event.AgentID)
	header.Set(HeaderIdempotencyKey, IdempotencyKey(event))

	return adapter.Retry(ctx, "webhook", a.config.Retries, func(ctx context.Context) error {
		err := a.post(ctx, header, body)
		var status *StatusError
		if errors.As(err, &status) && !status.Retryable() {
			return adapter.Permanent(err)
		}
		return err
	})
}

func (a *Adapter) post(ctx context.Context, header http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	// Drained so the connection is reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
