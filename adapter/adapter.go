// Package adapter publishes sweep completion notices to downstream systems.
//
// Notices are best effort: a publish failure is logged by the caller and
// never affects scanning. The agent owns adapter lifecycle; users provide
// configuration only.
package adapter

import "context"

// EventSweepCompleted is the event_type of every SweepCompletedEvent.
const EventSweepCompleted = "sweep_completed"

// Sweep outcomes.
const (
	// OutcomeCompleted means the sweep reached its final flush.
	OutcomeCompleted = "completed"
	// OutcomeThrottled means the backend answered 429 and the sweep stopped
	// describing files.
	OutcomeThrottled = "throttled"
	// OutcomeFailed means the sweep could not connect or panicked.
	OutcomeFailed = "failed"
)

// SweepCompletedEvent is the payload published after every source sweep.
type SweepCompletedEvent struct {
	EventType       string `json:"event_type"` // always "sweep_completed"
	AgentID         string `json:"agent_id"`
	LinkID          string `json:"link_id"`
	SourceID        string `json:"source_id"`
	Gateway         string `json:"gateway"`
	Outcome         string `json:"outcome"`
	Candidates      int    `json:"candidates"`
	Unseen          int    `json:"unseen"`
	Records         int    `json:"records"`
	BatchesAccepted int    `json:"batches_accepted"`
	BatchesDropped  int    `json:"batches_dropped"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"` // ISO 8601
	Timestamp       string `json:"timestamp"`  // ISO 8601
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes sweep completion events to a downstream system.
// Implementations must be safe for concurrent use by every scan loop.
type Adapter interface {
	// Publish sends a sweep completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SweepCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
