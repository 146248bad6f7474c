// Package journal records every flushed batch and its backend outcome in a
// Lode dataset.
//
// The journal is an audit trail. It never re-submits batches; a throttled
// or rejected batch is only recorded so operators can see what was dropped.
// Records are Hive-partitioned by source/category/day/outcome and encoded as
// JSONL, on the local filesystem or S3.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/ndsagent/types"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "ndsagent"

// RecordKind discriminates journal rows.
const (
	// RecordKindBatchRecord is one submitted record.
	RecordKindBatchRecord = "batch_record"
)

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"source", "category", "day", "outcome"}

// Outcome is the recorded result of one submission.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeThrottled Outcome = "throttled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Config configures a Journal.
type Config struct {
	// Dataset is the Lode dataset id (default "ndsagent").
	Dataset string
	// AgentID is stamped on every row.
	AgentID string
}

// Batch is one flush as seen by the scan loop.
type Batch struct {
	ID          string
	LinkID      string
	SourceID    string
	Outcome     Outcome
	Code        int
	Message     string
	Records     []types.Record
	SubmittedAt time.Time
}

// Journal writes batches to a Lode dataset.
type Journal struct {
	dataset lode.Dataset
	config  Config
}

// newDataset builds the dataset with the journal layout and codec.
func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// New creates a journal over a store factory.
// Use lode.NewMemoryFactory() for testing.
func New(cfg Config, factory lode.StoreFactory) (*Journal, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, wrap("init", cfg.Dataset, err)
	}
	return &Journal{dataset: ds, config: cfg}, nil
}

// NewFS creates a journal rooted at a local directory.
func NewFS(cfg Config, root string) (*Journal, error) {
	if root == "" {
		return nil, errors.New("journal filesystem root is required")
	}
	return New(cfg, lode.NewFSFactory(root))
}

// Write stores one row per record. Empty batches are not written.
func (j *Journal) Write(ctx context.Context, b Batch) error {
	if len(b.Records) == 0 {
		return nil
	}

	submitted := b.SubmittedAt.UTC()
	day := submitted.Format("2006-01-02")

	rows := make([]any, 0, len(b.Records))
	for _, r := range b.Records {
		category := r.Category()
		if category == "" {
			category = "unknown"
		}
		row := map[string]any{
			"record_kind":  RecordKindBatchRecord,
			"batch_id":     b.ID,
			"agent_id":     j.config.AgentID,
			"link_id":      b.LinkID,
			"code":         b.Code,
			"submitted_at": submitted.Format(time.RFC3339Nano),
			"record":       map[string]any(r),

			// Partition keys
			"source":   partitionValue(b.SourceID),
			"category": category,
			"day":      day,
			"outcome":  string(b.Outcome),
		}
		if b.Message != "" {
			row["message"] = b.Message
		}
		rows = append(rows, row)
	}

	if _, err := j.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return wrap("write", j.config.Dataset, err)
	}
	return nil
}

// Close releases journal resources.
func (j *Journal) Close() error {
	return nil
}

// partitionValue keeps a value usable as a single path segment.
func partitionValue(v string) string {
	if v == "" {
		return "unknown"
	}
	return strings.ReplaceAll(v, "/", "_")
}
