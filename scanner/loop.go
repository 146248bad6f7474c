package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ndsagent/adapter"
	"github.com/justapithecus/ndsagent/backend"
	"github.com/justapithecus/ndsagent/journal"
	"github.com/justapithecus/ndsagent/log"
	"github.com/justapithecus/ndsagent/rpc"
	"github.com/justapithecus/ndsagent/types"
)

// runLoop sweeps one source until ctx is cancelled. It owns gw and batch.
func (o *Orchestrator) runLoop(ctx context.Context, h *loopHandle, link types.NDSLink, gw Gateway) {
	logger := o.logger.With(map[string]any{
		"link_id": link.ID.String(),
		"nds_id":  link.NDS.ID.String(),
	})
	logger.Info("scan loop started", nil)

	defer func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		if gw.IsConnected(probeCtx) {
			if err := gw.Disconnect(); err != nil {
				logger.Warn("gateway disconnect failed", map[string]any{"error": err.Error()})
			}
		}
		cancel()
		o.removeLoop(h)
		logger.Info("scan loop stopped", nil)
	}()

	batch := NewBatch(o.cfg.MaxBatchBytes)
	for ctx.Err() == nil {
		started := o.cfg.Now()
		s := &sweep{o: o, link: link, gw: gw, batch: batch, logger: logger, startedAt: started}
		s.run(ctx)

		finished := o.cfg.Now()
		o.recordSweep(h, finished, s.outcome())
		o.publish(ctx, s, h.status.Gateway, finished)

		wait := PacingDelay(finished.Sub(started), o.cfg.MinInterval, o.cfg.MaxInterval)
		logger.Debug("sweep finished", map[string]any{
			"outcome":     s.outcome(),
			"duration_ms": finished.Sub(started).Milliseconds(),
			"next_in_ms":  wait.Milliseconds(),
		})
		if err := o.cfg.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// sweep is one pass over both categories of a source.
type sweep struct {
	o         *Orchestrator
	link      types.NDSLink
	gw        Gateway
	batch     *Batch
	logger    *log.Logger
	startedAt time.Time

	candidates int
	unseen     int
	records    int
	accepted   int
	dropped    int
	throttled  bool
	err        error
}

func (s *sweep) outcome() string {
	switch {
	case s.err != nil:
		return adapter.OutcomeFailed
	case s.throttled:
		return adapter.OutcomeThrottled
	default:
		return adapter.OutcomeCompleted
	}
}

// run performs the sweep. A panic anywhere in it fails this sweep only.
func (s *sweep) run(ctx context.Context) {
	m := s.o.cfg.Metrics
	m.IncSweepStarted()

	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("sweep panic: %v", r)
			s.batch.Drain()
			s.logger.Error("sweep panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
		if s.err != nil {
			m.IncSweepFailed()
		} else {
			m.IncSweepCompleted()
		}
	}()

	if err := s.gw.Connect(ctx); err != nil {
		s.err = fmt.Errorf("connect gateway: %w", err)
		s.logger.Error("gateway connect failed", map[string]any{
			"error": err.Error(),
			"code":  rpc.CodeOf(err),
		})
		return
	}

	// Every category is enumerated and filtered before any file is described.
	var pending []target
	for _, category := range types.Categories() {
		root, err := s.link.NDS.Root(category)
		if err != nil || root.Path == "" {
			s.logger.Debug("category not configured", map[string]any{"category": string(category)})
			continue
		}

		paths, ok := s.discover(ctx, category, root)
		if !ok {
			continue
		}
		for _, path := range paths {
			pending = append(pending, target{category: category, path: path})
		}
	}

	for _, t := range pending {
		if !s.describe(ctx, t.category, t.path) {
			break
		}
	}

	if !s.throttled {
		s.flush(ctx)
	}
}

// target is one unseen file tagged with its category.
type target struct {
	category types.Category
	path     string
}

// discover enumerates a category root and returns the paths the backend
// has not recorded. Reports false if the category must be skipped.
func (s *sweep) discover(ctx context.Context, category types.Category, root types.CategoryRoot) ([]string, bool) {
	m := s.o.cfg.Metrics
	fields := map[string]any{"category": string(category), "path": root.Path}

	candidates, err := s.gw.Enumerate(ctx, s.link.NDS.ID, root.Path, root.Filter)
	if err != nil {
		m.IncEnumerateFailure()
		fields["error"] = err.Error()
		fields["code"] = rpc.CodeOf(err)
		s.logger.Warn("enumerate failed", fields)
		return nil, false
	}
	s.candidates += len(candidates)
	m.AddCandidates(len(candidates))
	if len(candidates) == 0 {
		return nil, true
	}

	unseen, err := s.o.cfg.Backend.FilterUnseen(ctx, s.link.NDS.ID, category, candidates)
	if err != nil {
		m.IncFilterFailure()
		fields["error"] = err.Error()
		s.logger.Warn("unseen filter failed", fields)
		return nil, false
	}
	s.unseen += len(unseen)
	m.AddUnseen(len(unseen))

	fields["candidates"] = len(candidates)
	fields["unseen"] = len(unseen)
	s.logger.Debug("category enumerated", fields)
	return unseen, true
}

// describe fetches one file's sub-package entries and batches them.
// Reports false when the sweep was throttled and must stop.
func (s *sweep) describe(ctx context.Context, category types.Category, path string) bool {
	m := s.o.cfg.Metrics

	entries, err := s.gw.Describe(ctx, s.link.NDS.ID, path)
	if err != nil {
		m.IncDescribeFailure()
		s.logger.Warn("describe failed", map[string]any{
			"category": string(category),
			"file":     path,
			"error":    err.Error(),
			"code":     rpc.CodeOf(err),
		})
		return true
	}

	for _, entry := range entries {
		record := types.NewRecord(entry, s.link.NDS.ID, category, path)
		size, err := RecordSize(record)
		if err != nil {
			s.logger.Warn("skipping unencodable record", map[string]any{"file": path, "error": err.Error()})
			continue
		}
		if s.batch.WouldOverflow(size) {
			if !s.flush(ctx) {
				return false
			}
		}
		s.batch.Append(record, size)
		s.records++
		m.IncRecordsAppended()
	}
	return true
}

// flush submits the held records. Reports false if the backend throttled.
func (s *sweep) flush(ctx context.Context) bool {
	if s.batch.Len() == 0 {
		return true
	}
	m := s.o.cfg.Metrics
	bytes := s.batch.Bytes()
	records := s.batch.Drain()
	submittedAt := s.o.cfg.Now()

	fields := map[string]any{"records": len(records), "bytes": bytes}
	entry := journal.Batch{
		ID:          uuid.NewString(),
		LinkID:      s.link.ID.String(),
		SourceID:    s.link.NDS.ID.String(),
		Records:     records,
		SubmittedAt: submittedAt,
	}

	result, err := s.o.cfg.Backend.SubmitBatch(ctx, records)
	switch {
	case err != nil:
		entry.Outcome = journal.OutcomeFailed
		entry.Message = err.Error()
		m.IncBatchFailed(len(records))
		s.dropped++
		fields["error"] = err.Error()
		s.logger.Error("batch submit failed", fields)

	case result.Status == backend.StatusAccepted:
		entry.Outcome = journal.OutcomeAccepted
		m.IncBatchAccepted(len(records))
		s.accepted++
		s.logger.Info("batch submitted", fields)

	case result.Status == backend.StatusThrottled:
		// 429 drops the batch without retry and ends the sweep. Whether the
		// dropped files come back depends on the backend still reporting
		// them unseen on the next sweep.
		entry.Outcome = journal.OutcomeThrottled
		m.IncBatchThrottled(len(records))
		s.dropped++
		s.throttled = true
		s.logger.Warn("backend throttled, batch dropped and sweep paused", fields)

	default:
		entry.Outcome = journal.OutcomeRejected
		m.IncBatchRejected(len(records))
		s.dropped++
		fields["code"] = result.Code
		fields["message"] = result.Message
		s.logger.Error("batch rejected", fields)
	}
	entry.Code = result.Code
	if entry.Message == "" {
		entry.Message = result.Message
	}

	s.o.writeJournal(ctx, entry)
	return !s.throttled
}

func (o *Orchestrator) writeJournal(ctx context.Context, b journal.Batch) {
	if o.cfg.Journal == nil {
		return
	}
	if err := o.cfg.Journal.Write(context.WithoutCancel(ctx), b); err != nil {
		o.cfg.Metrics.IncJournalWriteFailure()
		o.logger.Warn("journal write failed", map[string]any{"batch_id": b.ID, "error": err.Error()})
		return
	}
	o.cfg.Metrics.IncJournalWriteSuccess()
}

// publish emits the sweep completion event. Failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, s *sweep, gatewayAddr string, finished time.Time) {
	if o.cfg.Adapter == nil {
		return
	}
	event := &adapter.SweepCompletedEvent{
		EventType:       adapter.EventSweepCompleted,
		AgentID:         o.cfg.AgentID,
		LinkID:          s.link.ID.String(),
		SourceID:        s.link.NDS.ID.String(),
		Gateway:         gatewayAddr,
		Outcome:         s.outcome(),
		Candidates:      s.candidates,
		Unseen:          s.unseen,
		Records:         s.records,
		BatchesAccepted: s.accepted,
		BatchesDropped:  s.dropped,
		StartedAt:       s.startedAt.UTC().Format(time.RFC3339Nano),
		Timestamp:       finished.UTC().Format(time.RFC3339Nano),
		DurationMs:      finished.Sub(s.startedAt).Milliseconds(),
	}
	if s.err != nil {
		event.Error = s.err.Error()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PublishTimeout)
	defer cancel()
	if err := o.cfg.Adapter.Publish(pubCtx, event); err != nil {
		s.logger.Warn("sweep event publish failed", map[string]any{"error": err.Error()})
	}
}
