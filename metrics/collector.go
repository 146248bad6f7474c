// Package metrics accumulates scan counters for the agent process.
//
// The Collector is a leaf package with no internal dependencies. It is
// shared by every scan loop and read by the HTTP front-end and the
// Prometheus exporter through Snapshot.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all scan metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sweep lifecycle
	SweepsStarted   int64 `json:"sweeps_started"`
	SweepsCompleted int64 `json:"sweeps_completed"`
	SweepsFailed    int64 `json:"sweeps_failed"`

	// Discovery
	EnumerateFailures int64 `json:"enumerate_failures"`
	FilterFailures    int64 `json:"filter_failures"`
	DescribeFailures  int64 `json:"describe_failures"`
	Candidates        int64 `json:"candidates"`
	Unseen            int64 `json:"unseen"`
	RecordsAppended   int64 `json:"records_appended"`

	// Batches (per submit call) and the records they carried
	BatchesAccepted  int64 `json:"batches_accepted"`
	BatchesThrottled int64 `json:"batches_throttled"`
	BatchesRejected  int64 `json:"batches_rejected"`
	BatchesFailed    int64 `json:"batches_failed"`
	RecordsSubmitted int64 `json:"records_submitted"`
	RecordsDropped   int64 `json:"records_dropped"`

	// Journal
	JournalWriteSuccess int64 `json:"journal_write_success"`
	JournalWriteFailure int64 `json:"journal_write_failure"`

	// Dimensions (informational, set at construction)
	AgentID        string `json:"agent_id"`
	StorageBackend string `json:"storage_backend"`
	Adapter        string `json:"adapter"`
}

// Collector accumulates metrics for the agent process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sweepsStarted   int64
	sweepsCompleted int64
	sweepsFailed    int64

	enumerateFailures int64
	filterFailures    int64
	describeFailures  int64
	candidates        int64
	unseen            int64
	recordsAppended   int64

	batchesAccepted  int64
	batchesThrottled int64
	batchesRejected  int64
	batchesFailed    int64
	recordsSubmitted int64
	recordsDropped   int64

	journalWriteSuccess int64
	journalWriteFailure int64

	agentID        string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend and adapter are empty when the journal or adapter is disabled.
func NewCollector(agentID, storageBackend, adapter string) *Collector {
	return &Collector{
		agentID:        agentID,
		storageBackend: storageBackend,
		adapter:        adapter,
	}
}

// add is the single mutation path for counters.
func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Sweep lifecycle ---

// IncSweepStarted records the start of one source sweep.
func (c *Collector) IncSweepStarted() {
	if c == nil {
		return
	}
	c.add(&c.sweepsStarted, 1)
}

// IncSweepCompleted records a sweep that ran to its final flush.
func (c *Collector) IncSweepCompleted() {
	if c == nil {
		return
	}
	c.add(&c.sweepsCompleted, 1)
}

// IncSweepFailed records a sweep aborted by a connect failure or panic.
func (c *Collector) IncSweepFailed() {
	if c == nil {
		return
	}
	c.add(&c.sweepsFailed, 1)
}

// --- Discovery ---

// IncEnumerateFailure records a failed scan call for one category.
func (c *Collector) IncEnumerateFailure() {
	if c == nil {
		return
	}
	c.add(&c.enumerateFailures, 1)
}

// IncFilterFailure records a failed unseen-file filter call.
func (c *Collector) IncFilterFailure() {
	if c == nil {
		return
	}
	c.add(&c.filterFailures, 1)
}

// IncDescribeFailure records a failed zip_info call.
func (c *Collector) IncDescribeFailure() {
	if c == nil {
		return
	}
	c.add(&c.describeFailures, 1)
}

// AddCandidates records enumerated candidate paths.
func (c *Collector) AddCandidates(n int) {
	if c == nil {
		return
	}
	c.add(&c.candidates, int64(n))
}

// AddUnseen records candidate paths the backend has not seen.
func (c *Collector) AddUnseen(n int) {
	if c == nil {
		return
	}
	c.add(&c.unseen, int64(n))
}

// IncRecordsAppended records one record added to a batch.
func (c *Collector) IncRecordsAppended() {
	if c == nil {
		return
	}
	c.add(&c.recordsAppended, 1)
}

// --- Batches ---
// Batch counters are per submit call. Record counters carry the batch size.

// IncBatchAccepted records an accepted batch of n records.
func (c *Collector) IncBatchAccepted(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesAccepted++
	c.recordsSubmitted += int64(n)
	c.mu.Unlock()
}

// IncBatchThrottled records a batch of n records dropped on a 429.
func (c *Collector) IncBatchThrottled(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesThrottled++
	c.recordsDropped += int64(n)
	c.mu.Unlock()
}

// IncBatchRejected records a batch of n records dropped on another status.
func (c *Collector) IncBatchRejected(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesRejected++
	c.recordsDropped += int64(n)
	c.mu.Unlock()
}

// IncBatchFailed records a batch of n records dropped on a transport error.
func (c *Collector) IncBatchFailed(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesFailed++
	c.recordsDropped += int64(n)
	c.mu.Unlock()
}

// --- Journal ---

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteSuccess, 1)
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SweepsStarted:   c.sweepsStarted,
		SweepsCompleted: c.sweepsCompleted,
		SweepsFailed:    c.sweepsFailed,

		EnumerateFailures: c.enumerateFailures,
		FilterFailures:    c.filterFailures,
		DescribeFailures:  c.describeFailures,
		Candidates:        c.candidates,
		Unseen:            c.unseen,
		RecordsAppended:   c.recordsAppended,

		BatchesAccepted:  c.batchesAccepted,
		BatchesThrottled: c.batchesThrottled,
		BatchesRejected:  c.batchesRejected,
		BatchesFailed:    c.batchesFailed,
		RecordsSubmitted: c.recordsSubmitted,
		RecordsDropped:   c.recordsDropped,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		AgentID:        c.agentID,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}
