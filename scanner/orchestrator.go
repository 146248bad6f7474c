// Package scanner runs one polling loop per assigned NDS source.
//
// Each loop enumerates candidate files through its own gateway connection,
// asks the backend which are unseen, describes those files and submits the
// resulting records in size-bounded batches. Loops are fire-and-forget: their
// failures are visible only in logs, metrics, the journal and adapter events.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/ndsagent/adapter"
	"github.com/justapithecus/ndsagent/backend"
	"github.com/justapithecus/ndsagent/gateway"
	"github.com/justapithecus/ndsagent/journal"
	"github.com/justapithecus/ndsagent/log"
	"github.com/justapithecus/ndsagent/metrics"
	"github.com/justapithecus/ndsagent/types"
)

// Start status messages.
const (
	MsgStarted         = "扫描器启动成功"
	MsgAlreadyStarted  = "扫描器已启动"
	MsgNoUsableSources = "无可用NDS"
)

// Default pacing bounds.
const (
	DefaultMinInterval = 60 * time.Second
	DefaultMaxInterval = 300 * time.Second
)

// DefaultPublishTimeout bounds one adapter publish.
const DefaultPublishTimeout = 30 * time.Second

// disconnectTimeout bounds the liveness probe made when a loop exits.
const disconnectTimeout = 5 * time.Second

// ErrMisconfiguredSource is the class of every assignment error that
// prevents Start. Match with errors.Is.
var ErrMisconfiguredSource = errors.New("misconfigured source")

var (
	// ErrNoGateway means the assignment has no usable gateway binding:
	// none at all, or one missing its id or host.
	ErrNoGateway = fmt.Errorf("%w: 未配置网关", ErrMisconfiguredSource)
	// ErrNoSources means the assignment has no NDS links.
	ErrNoSources = fmt.Errorf("%w: 未配置NDS", ErrMisconfiguredSource)
	// ErrNoBoundSources means the backend has no NDS bound to the gateway.
	ErrNoBoundSources = fmt.Errorf("%w: 绑定网关NDS清单为空, 无法启动扫描器", ErrMisconfiguredSource)
)

// Backend is the subset of the inventory service the scanner uses.
type Backend interface {
	GetAssignment(ctx context.Context) (*types.Assignment, error)
	GatewaySources(ctx context.Context, gatewayID types.ID) ([]types.BoundNDS, error)
	FilterUnseen(ctx context.Context, ndsID types.ID, category types.Category, paths []string) ([]string, error)
	SubmitBatch(ctx context.Context, records []types.Record) (backend.SubmitResult, error)
}

// Gateway is one source's gateway connection. Owned by a single loop.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected(ctx context.Context) bool
	Enumerate(ctx context.Context, ndsID types.ID, path, filter string) ([]string, error)
	Describe(ctx context.Context, ndsID types.ID, path string) ([]types.Entry, error)
}

// GatewayFactory creates the gateway connection for one source.
type GatewayFactory func(binding types.GatewayBinding, ndsID types.ID) (Gateway, error)

// Journal records flushed batches.
type Journal interface {
	Write(ctx context.Context, b journal.Batch) error
}

// NewGatewayFactory returns a factory building gateway.Client connections.
func NewGatewayFactory(path string, callTimeout time.Duration, logger *log.Logger) GatewayFactory {
	return func(binding types.GatewayBinding, ndsID types.ID) (Gateway, error) {
		c, err := gateway.New(gateway.Config{
			Binding:     binding,
			ClientID:    gateway.ClientID(ndsID),
			Path:        path,
			CallTimeout: callTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Config configures an Orchestrator.
type Config struct {
	// Backend is the inventory service client (required).
	Backend Backend
	// NewGateway creates per-source connections (required).
	NewGateway GatewayFactory
	// MinInterval is the least time between sweeps (default 60s).
	MinInterval time.Duration
	// MaxInterval is the target sweep cadence (default 300s).
	MaxInterval time.Duration
	// MaxBatchBytes is the batch ceiling (default 10 MiB).
	MaxBatchBytes int64
	// AgentID is stamped on adapter events.
	AgentID string
	// Logger is optional. If nil, no logging is emitted.
	Logger *log.Logger
	// Metrics is optional (all Collector methods are nil-safe).
	Metrics *metrics.Collector
	// Adapter, if set, receives a SweepCompletedEvent after every sweep.
	Adapter adapter.Adapter
	// PublishTimeout bounds one adapter publish (default 30s).
	PublishTimeout time.Duration
	// Journal, if set, records every flushed batch.
	Journal Journal
	// Sleep waits for d or until ctx ends. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// LoopStatus describes one running source loop.
type LoopStatus struct {
	LinkID      types.ID  `json:"link_id"`
	SourceID    types.ID  `json:"source_id"`
	Gateway     string    `json:"gateway"`
	StartedAt   time.Time `json:"started_at"`
	Sweeps      int64     `json:"sweeps"`
	LastSweepAt time.Time `json:"last_sweep_at,omitzero"`
	LastOutcome string    `json:"last_outcome,omitempty"`
}

// loopHandle is the orchestrator's record of one spawned loop.
type loopHandle struct {
	status LoopStatus
}

// Orchestrator owns the scanner state machine and its loops.
type Orchestrator struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	state  types.AgentState
	cancel context.CancelFunc
	loops  map[*loopHandle]struct{}
}

// New creates a stopped orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("scanner requires a backend")
	}
	if cfg.NewGateway == nil {
		return nil, errors.New("scanner requires a gateway factory")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("max interval %v is below min interval %v", cfg.MaxInterval, cfg.MinInterval)
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With(map[string]any{"component": "scanner"}),
		state:  types.StateStopped,
		loops:  make(map[*loopHandle]struct{}),
	}, nil
}

// Start fetches the assignment and spawns one loop per NDS link.
//
// Returns MsgAlreadyStarted if the orchestrator is not stopped, and
// MsgNoUsableSources (nil error, state stopped) if every link was skipped.
// Misconfigured assignments return an error matching ErrMisconfiguredSource
// and leave the orchestrator stopped. Loops outlive ctx; use Stop.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state != types.StateStopped {
		o.mu.Unlock()
		return MsgAlreadyStarted, nil
	}
	o.state = types.StateStarting
	o.mu.Unlock()

	msg, err := o.start(ctx)
	if err != nil {
		o.setState(types.StateStopped)
		o.logger.Error("scanner start failed", map[string]any{"error": err.Error()})
		return "", err
	}
	return msg, nil
}

func (o *Orchestrator) start(ctx context.Context) (string, error) {
	assignment, err := o.cfg.Backend.GetAssignment(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch assignment: %w", err)
	}
	if assignment.Gateway == nil || assignment.Gateway.ID == "" || assignment.Gateway.Host == "" {
		return "", ErrNoGateway
	}
	if len(assignment.NDSLinks) == 0 {
		return "", ErrNoSources
	}

	bound, err := o.cfg.Backend.GatewaySources(ctx, assignment.Gateway.ID)
	if err != nil {
		return "", fmt.Errorf("fetch gateway sources: %w", err)
	}
	if len(bound) == 0 {
		return "", ErrNoBoundSources
	}

	binding := *assignment.Gateway
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	spawned := 0
	for _, link := range assignment.NDSLinks {
		if link.ID == "" {
			o.logger.Warn("skipping NDS link without id", map[string]any{"nds_id": link.NDS.ID.String()})
			continue
		}
		gw, err := o.cfg.NewGateway(binding, link.NDS.ID)
		if err != nil {
			o.logger.Error("skipping NDS link: gateway setup failed", map[string]any{
				"link_id": link.ID.String(),
				"error":   err.Error(),
			})
			continue
		}

		h := &loopHandle{status: LoopStatus{
			LinkID:    link.ID,
			SourceID:  link.NDS.ID,
			Gateway:   binding.Address(),
			StartedAt: o.cfg.Now(),
		}}
		o.mu.Lock()
		o.loops[h] = struct{}{}
		o.mu.Unlock()

		go o.runLoop(loopCtx, h, link, gw)
		spawned++
	}

	if spawned == 0 {
		cancel()
		o.setState(types.StateStopped)
		o.logger.Warn("scanner not started: no usable NDS links", nil)
		return MsgNoUsableSources, nil
	}

	o.mu.Lock()
	o.state = types.StateRunning
	o.cancel = cancel
	o.mu.Unlock()

	o.logger.Info("scanner started", map[string]any{
		"gateway": binding.Address(),
		"loops":   spawned,
	})
	return MsgStarted, nil
}

// Stop cancels every loop and returns the orchestrator to stopped. Loops
// exit on their own; Stop does not wait for them. Reports whether the
// orchestrator was running.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != types.StateRunning {
		return false
	}
	o.cancel()
	o.cancel = nil
	o.state = types.StateStopped
	o.logger.Info("scanner stopped", nil)
	return true
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() types.AgentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveLoops returns the loops that have not yet exited, ordered by link id.
func (o *Orchestrator) ActiveLoops() []LoopStatus {
	o.mu.Lock()
	out := make([]LoopStatus, 0, len(o.loops))
	for h := range o.loops {
		out = append(out, h.status)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out
}

// LoopCount returns the number of loops that have not yet exited.
func (o *Orchestrator) LoopCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.loops)
}

func (o *Orchestrator) setState(s types.AgentState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) removeLoop(h *loopHandle) {
	o.mu.Lock()
	delete(o.loops, h)
	o.mu.Unlock()
}

func (o *Orchestrator) recordSweep(h *loopHandle, at time.Time, outcome string) {
	o.mu.Lock()
	h.status.Sweeps++
	h.status.LastSweepAt = at
	h.status.LastOutcome = outcome
	o.mu.Unlock()
}

// PacingDelay returns the sleep after a sweep that took elapsed: the rest of
// the max cadence, but never less than min.
func PacingDelay(elapsed, minInterval, maxInterval time.Duration) time.Duration {
	return max(minInterval, maxInterval-elapsed)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
