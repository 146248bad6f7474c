package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/justapithecus/ndsagent/server"
)

const agentRequestTimeout = 10 * time.Second

// agentClient talks to a running agent's HTTP front-end.
type agentClient struct {
	baseURL string
	http    *http.Client
}

func newAgentClient(baseURL string) *agentClient {
	return &agentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: agentRequestTimeout},
	}
}

// get fetches path and decodes the envelope's data into out.
// A non-OK envelope code is returned as an error carrying its message.
func (a *agentClient) get(ctx context.Context, path string, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent unreachable at %s: %w", a.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent returned HTTP %d for %s", resp.StatusCode, path)
	}

	var env struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}
	if env.Code != server.CodeOK {
		return "", fmt.Errorf("agent error %d: %s", env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("failed to decode agent data: %w", err)
		}
	}
	return env.Message, nil
}

func (a *agentClient) stats(ctx context.Context) (*server.Stats, error) {
	var s server.Stats
	if _, err := a.get(ctx, "/v1/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}
