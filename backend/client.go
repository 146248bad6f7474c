// Package backend is the HTTP client for the inventory service.
//
// Every response body is the envelope {code, message, data}. Calls are
// stateless, so one Client is shared by every scan loop.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/justapithecus/ndsagent/iox"
	"github.com/justapithecus/ndsagent/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = time.Hour

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// Config configures the backend client.
type Config struct {
	// BaseURL is the API root, e.g. http://host:8080/api/ (required).
	BaseURL string
	// AgentID is this agent's registered id (required).
	AgentID string
	// Port is advertised on registration.
	Port int
	// Headers are added to every request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 1h).
	Timeout time.Duration
}

// BaseURL builds the API root from its parts.
func BaseURL(protocol, host string, port int) string {
	return fmt.Sprintf("%s://%s:%d/api/", protocol, host, port)
}

// Client calls the inventory service.
type Client struct {
	config Config
	base   *url.URL
	client *http.Client
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend client requires a base URL")
	}
	if cfg.AgentID == "" {
		return nil, errors.New("backend client requires an agent id")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	return &Client{
		config: cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// envelope is the backend's response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Status is the outcome of a batch submission.
type Status string

const (
	// StatusAccepted means the backend stored the batch.
	StatusAccepted Status = "accepted"
	// StatusThrottled means the backend answered 429 and new data must not
	// be offered until a later sweep.
	StatusThrottled Status = "throttled"
	// StatusRejected means any other non-200 answer.
	StatusRejected Status = "rejected"
)

// SubmitResult describes the backend's answer to SubmitBatch.
type SubmitResult struct {
	Status  Status
	Code    int
	Message string
}

// GetAssignment fetches this agent's gateway binding and NDS links.
func (c *Client) GetAssignment(ctx context.Context) (*types.Assignment, error) {
	env, err := c.expectOK(ctx, http.MethodGet, "scanner/"+c.config.AgentID, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: get assignment: %w", err)
	}

	var assignment types.Assignment
	if err := decodeData(env, &assignment); err != nil {
		return nil, fmt.Errorf("backend: get assignment: %w", err)
	}
	return &assignment, nil
}

// GatewaySources returns the NDS the backend has bound to a gateway.
func (c *Client) GatewaySources(ctx context.Context, gatewayID types.ID) ([]types.BoundNDS, error) {
	if gatewayID == "" {
		return nil, fmt.Errorf("backend: gateway sources: %w: gateway id", ErrMissingInput)
	}

	env, err := c.expectOK(ctx, http.MethodGet, "gateway/"+gatewayID.String()+"/nds", nil)
	if err != nil {
		return nil, fmt.Errorf("backend: gateway sources: %w", err)
	}

	var bound []types.BoundNDS
	if err := decodeData(env, &bound); err != nil {
		return nil, fmt.Errorf("backend: gateway sources: %w", err)
	}
	return bound, nil
}

// FilterUnseen returns the subset of paths the backend has not recorded for
// the source and category. A nil paths slice is a missing input; an empty
// one returns an empty result without a request.
func (c *Client) FilterUnseen(ctx context.Context, ndsID types.ID, category types.Category, paths []string) ([]string, error) {
	switch {
	case ndsID == "":
		return nil, fmt.Errorf("backend: filter unseen: %w: source id", ErrMissingInput)
	case category == "":
		return nil, fmt.Errorf("backend: filter unseen: %w: category", ErrMissingInput)
	case paths == nil:
		return nil, fmt.Errorf("backend: filter unseen: %w: candidate paths", ErrMissingInput)
	case len(paths) == 0:
		return []string{}, nil
	}

	env, err := c.expectOK(ctx, http.MethodPost, "ndsfile/filter", map[string]any{
		"source_id":       ndsID,
		"category":        category,
		"candidate_paths": paths,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: filter unseen: %w", err)
	}

	var result struct {
		Missing []string `json:"missing"`
	}
	if err := decodeData(env, &result); err != nil {
		return nil, fmt.Errorf("backend: filter unseen: %w", err)
	}
	if result.Missing == nil {
		result.Missing = []string{}
	}
	return result.Missing, nil
}

// SubmitBatch posts records as one JSON array.
//
// The result code is the HTTP status when it is not 200, otherwise the
// envelope code. A non-nil error means the request did not complete.
func (c *Client) SubmitBatch(ctx context.Context, records []types.Record) (SubmitResult, error) {
	if records == nil {
		records = []types.Record{}
	}

	status, env, err := c.do(ctx, http.MethodPost, "ndsfile/batch", records)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("backend: submit batch: %w", err)
	}

	code := status
	message := ""
	if env != nil {
		message = env.Message
		if status == http.StatusOK && env.Code != 0 {
			code = env.Code
		}
	}

	result := SubmitResult{Code: code, Message: message}
	switch code {
	case http.StatusOK:
		result.Status = StatusAccepted
	case http.StatusTooManyRequests:
		result.Status = StatusThrottled
	default:
		result.Status = StatusRejected
	}
	return result, nil
}

// Register announces this agent and its HTTP port.
func (c *Client) Register(ctx context.Context) error {
	_, err := c.expectOK(ctx, http.MethodPost, "scanner/register", map[string]any{
		"id":   c.config.AgentID,
		"port": c.config.Port,
	})
	if err != nil {
		return fmt.Errorf("backend: register: %w", err)
	}
	return nil
}

// Unregister marks this agent offline.
func (c *Client) Unregister(ctx context.Context) error {
	_, err := c.expectOK(ctx, http.MethodPut, "scanner/"+c.config.AgentID, map[string]any{
		"status": 0,
	})
	if err != nil {
		return fmt.Errorf("backend: unregister: %w", err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// expectOK performs a request and requires both the HTTP status and the
// envelope code to be 200.
func (c *Client) expectOK(ctx context.Context, method, path string, body any) (*envelope, error) {
	status, env, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	if status != http.StatusOK {
		msg := ""
		if env != nil {
			msg = env.Message
		}
		return nil, &StatusError{Code: status, Message: msg}
	}
	if env == nil {
		return nil, &StatusError{Code: status, Message: "empty response body"}
	}
	if env.Code != http.StatusOK {
		return nil, &StatusError{Code: env.Code, Message: env.Message}
	}
	return env, nil
}

// do performs one request. The envelope is nil if the body was empty or not
// an envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (int, *envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &env) != nil {
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, &env, nil
}

func decodeData(env *envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
