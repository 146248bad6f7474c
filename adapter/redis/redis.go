// Package redis publishes sweep completion events over Redis.
//
// Every event goes to a pub/sub channel and is also kept as the latest
// sweep of its link in the LastSweepKey hash, so a consumer that was not
// subscribed can still read where each link stands.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/ndsagent/adapter"
)

const (
	// DefaultChannel is the pub/sub channel when none is configured.
	DefaultChannel = "ndsagent:sweep_completed"
	// LastSweepKey is the hash holding the latest event per link id.
	LastSweepKey = "ndsagent:last_sweep"
	// DefaultTimeout bounds one publish attempt.
	DefaultTimeout = 5 * time.Second
)

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL string
	// Channel may contain {agent_id}, {source_id} and {outcome}, expanded
	// per event, e.g. "ndsagent:{source_id}:{outcome}".
	Channel string
	Timeout time.Duration
	Retries int
}

// Adapter publishes sweep completion events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New validates cfg and creates the client. No connection is made until
// the first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// ChannelFor returns the channel event is published to.
func (a *Adapter) ChannelFor(event *adapter.SweepCompletedEvent) string {
	return strings.NewReplacer(
		"{agent_id}", event.AgentID,
		"{source_id}", event.SourceID,
		"{outcome}", event.Outcome,
	).Replace(a.config.Channel)
}

// Publish sends event to its channel and records it as the link's latest
// sweep, in one MULTI/EXEC.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SweepCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.ChannelFor(event)

	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Publish(ctx, channel, body)
			p.HSet(ctx, LastSweepKey, event.LinkID, body)
			return nil
		})
		if errors.Is(err, goredis.ErrClosed) {
			return adapter.Permanent(err)
		}
		return err
	})
}

// Close closes the client. Later publishes fail without retrying.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
