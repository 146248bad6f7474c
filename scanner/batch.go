package scanner

import (
	"encoding/json"
	"fmt"

	"github.com/justapithecus/ndsagent/types"
)

// DefaultMaxBatchBytes is the serialized size ceiling of one batch (10 MiB).
const DefaultMaxBatchBytes int64 = 10 * 1024 * 1024

// Batch accumulates records for one source loop until they are submitted.
//
// Size is the sum of each record's JSON encoding. A record is never split:
// the caller flushes before an append that would cross the ceiling, so a
// record larger than the ceiling is submitted alone. Not safe for concurrent
// use; each loop owns its Batch.
type Batch struct {
	maxBytes int64
	records  []types.Record
	bytes    int64
}

// NewBatch creates an empty batch. maxBytes <= 0 selects DefaultMaxBatchBytes.
func NewBatch(maxBytes int64) *Batch {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	return &Batch{maxBytes: maxBytes}
}

// RecordSize returns the JSON-encoded size of r.
func RecordSize(r types.Record) (int64, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	return int64(len(b)), nil
}

// WouldOverflow reports whether appending a record of size bytes would push
// a non-empty batch past the ceiling.
func (b *Batch) WouldOverflow(size int64) bool {
	return len(b.records) > 0 && b.bytes+size > b.maxBytes
}

// Append adds a record whose encoded size is size.
func (b *Batch) Append(r types.Record, size int64) {
	b.records = append(b.records, r)
	b.bytes += size
}

// Drain returns the accumulated records and empties the batch.
func (b *Batch) Drain() []types.Record {
	out := b.records
	b.records = nil
	b.bytes = 0
	return out
}

// Len returns the number of records held.
func (b *Batch) Len() int { return len(b.records) }

// Bytes returns the running serialized size.
func (b *Batch) Bytes() int64 { return b.bytes }

// MaxBytes returns the ceiling.
func (b *Batch) MaxBytes() int64 { return b.maxBytes }
