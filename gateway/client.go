// Package gateway provides a typed client for one NDS source's gateway
// connection.
//
// Each Client owns a single rpc.Transport and is used by exactly one scan
// loop. Transport failures are returned unchanged so callers can classify
// them with errors.Is against the rpc sentinels.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/ndsagent/log"
	"github.com/justapithecus/ndsagent/rpc"
	"github.com/justapithecus/ndsagent/types"
)

// Gateway API names.
const (
	APIScan    = "scan"
	APIZipInfo = "zip_info"
	APIRead    = "read"
)

// DefaultPath is the gateway's WebSocket mount point.
const DefaultPath = "/v1/nds/ws"

// ClientID returns the connection identifier used for a source.
func ClientID(ndsID types.ID) string {
	return "Scanner-NDS-" + ndsID.String()
}

// URL builds the WebSocket endpoint for a gateway binding.
func URL(binding types.GatewayBinding, path, clientID string) string {
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("ws://%s%s/%s", binding.Address(), path, clientID)
}

// Config configures a gateway Client.
type Config struct {
	// Binding is the gateway host assignment (required).
	Binding types.GatewayBinding
	// ClientID identifies this connection to the gateway (required).
	ClientID string
	// Path overrides DefaultPath.
	Path string
	// CallTimeout bounds each call (default rpc.DefaultCallTimeout).
	CallTimeout time.Duration
	// Logger is optional.
	Logger *log.Logger
}

// Client issues scan, zip_info and read calls for one source.
type Client struct {
	transport   *rpc.Transport
	callTimeout time.Duration
}

// New creates a disconnected client.
func New(cfg Config) (*Client, error) {
	if cfg.Binding.Host == "" {
		return nil, errors.New("gateway binding requires a host")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("gateway client requires a client id")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = rpc.DefaultCallTimeout
	}

	transport, err := rpc.New(rpc.Config{
		URL:    URL(cfg.Binding, cfg.Path, cfg.ClientID),
		Logger: cfg.Logger.With(map[string]any{"client_id": cfg.ClientID}),
	})
	if err != nil {
		return nil, err
	}

	return &Client{transport: transport, callTimeout: cfg.CallTimeout}, nil
}

// Connect opens the connection if it is not already live.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Disconnect closes the connection, failing any outstanding calls.
func (c *Client) Disconnect() error {
	return c.transport.Close()
}

// IsConnected probes the connection.
func (c *Client) IsConnected(ctx context.Context) bool {
	return c.transport.IsConnected(ctx)
}

// Enumerate lists candidate file paths under path whose names match filter.
func (c *Client) Enumerate(ctx context.Context, ndsID types.ID, path, filter string) ([]string, error) {
	resp, err := c.transport.Call(ctx, APIScan, map[string]any{
		"nds_id": ndsID,
		"path":   path,
		"filter": filter,
	}, c.callTimeout)
	if err != nil {
		return nil, err
	}

	var paths []string
	if err := resp.DecodeData(&paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// Describe returns the sub-package entries of the container at path.
// A single-object payload is returned as one entry.
func (c *Client) Describe(ctx context.Context, ndsID types.ID, path string) ([]types.Entry, error) {
	resp, err := c.transport.Call(ctx, APIZipInfo, map[string]any{
		"nds_id": ndsID,
		"path":   path,
	}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	return decodeEntries(resp)
}

// FetchRange reads size bytes at offset from the file at path.
func (c *Client) FetchRange(ctx context.Context, ndsID types.ID, path string, offset, size int64) ([]byte, error) {
	resp, err := c.transport.Call(ctx, APIRead, map[string]any{
		"nds_id": ndsID,
		"path":   path,
		"offset": offset,
		"size":   size,
	}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	return resp.Bytes, nil
}

func decodeEntries(resp *rpc.Response) ([]types.Entry, error) {
	var raw json.RawMessage
	if err := resp.DecodeData(&raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '{' {
		var entry types.Entry
		if err := resp.DecodeData(&entry); err != nil {
			return nil, err
		}
		return []types.Entry{entry}, nil
	}

	var entries []types.Entry
	if err := resp.DecodeData(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
