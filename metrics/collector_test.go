package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("agent-1", "fs", "webhook")

	c.IncSweepStarted()
	c.IncSweepStarted()
	c.IncSweepCompleted()
	c.IncSweepFailed()
	c.IncEnumerateFailure()
	c.IncFilterFailure()
	c.IncDescribeFailure()
	c.IncDescribeFailure()
	c.AddCandidates(10)
	c.AddUnseen(4)
	c.IncRecordsAppended()
	c.IncRecordsAppended()
	c.IncRecordsAppended()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"SweepsStarted", s.SweepsStarted, 2},
		{"SweepsCompleted", s.SweepsCompleted, 1},
		{"SweepsFailed", s.SweepsFailed, 1},
		{"EnumerateFailures", s.EnumerateFailures, 1},
		{"FilterFailures", s.FilterFailures, 1},
		{"DescribeFailures", s.DescribeFailures, 2},
		{"Candidates", s.Candidates, 10},
		{"Unseen", s.Unseen, 4},
		{"RecordsAppended", s.RecordsAppended, 3},
		{"JournalWriteSuccess", s.JournalWriteSuccess, 1},
		{"JournalWriteFailure", s.JournalWriteFailure, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestCollector_BatchOutcomes(t *testing.T) {
	c := NewCollector("agent-1", "", "")

	c.IncBatchAccepted(5)
	c.IncBatchAccepted(3)
	c.IncBatchThrottled(7)
	c.IncBatchRejected(2)
	c.IncBatchFailed(1)

	s := c.Snapshot()
	if s.BatchesAccepted != 2 || s.RecordsSubmitted != 8 {
		t.Errorf("accepted = %d/%d, want 2/8", s.BatchesAccepted, s.RecordsSubmitted)
	}
	if s.BatchesThrottled != 1 || s.BatchesRejected != 1 || s.BatchesFailed != 1 {
		t.Errorf("unexpected outcome counts %+v", s)
	}
	if s.RecordsDropped != 10 {
		t.Errorf("RecordsDropped = %d, want 10", s.RecordsDropped)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("agent-1", "s3", "redis").Snapshot()

	if s.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", s.AgentID)
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want s3", s.StorageBackend)
	}
	if s.Adapter != "redis" {
		t.Errorf("Adapter = %q, want redis", s.Adapter)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncSweepStarted()
	c.IncSweepCompleted()
	c.IncSweepFailed()
	c.IncEnumerateFailure()
	c.IncFilterFailure()
	c.IncDescribeFailure()
	c.AddCandidates(1)
	c.AddUnseen(1)
	c.IncRecordsAppended()
	c.IncBatchAccepted(1)
	c.IncBatchThrottled(1)
	c.IncBatchRejected(1)
	c.IncBatchFailed(1)
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()

	s := c.Snapshot()
	if s.SweepsStarted != 0 {
		t.Errorf("nil collector snapshot should be zero, got %d", s.SweepsStarted)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("agent-1", "fs", "")

	const goroutines = 50
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncSweepStarted()
				c.IncRecordsAppended()
				c.IncBatchAccepted(2)
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)
	if s.SweepsStarted != want {
		t.Errorf("SweepsStarted = %d, want %d", s.SweepsStarted, want)
	}
	if s.RecordsSubmitted != 2*want {
		t.Errorf("RecordsSubmitted = %d, want %d", s.RecordsSubmitted, 2*want)
	}
}
