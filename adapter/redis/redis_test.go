package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/justapithecus/ndsagent/adapter"
)

func sweepOf(linkID, outcome string) *adapter.SweepCompletedEvent {
	return &adapter.SweepCompletedEvent{
		EventType:  adapter.EventSweepCompleted,
		AgentID:    "3f2a9c41d07be815",
		LinkID:     linkID,
		SourceID:   "5",
		Gateway:    "10.0.0.9:9000",
		Outcome:    outcome,
		Candidates: 120,
		Unseen:     4,
		Records:    4,
		StartedAt:  "2026-02-07T11:59:58Z",
		Timestamp:  "2026-02-07T12:00:00Z",
		DurationMs: 1500,
	}
}

func newAdapter(t *testing.T, mr *miniredis.Miniredis, channel string) *Adapter {
	t.Helper()
	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: channel})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// publishAndReceive subscribes to channel, publishes event and returns the
// delivered message. miniredis delivers synchronously, so the read runs in
// its own goroutine before Publish.
func publishAndReceive(t *testing.T, mr *miniredis.Miniredis, a *Adapter, channel string, event *adapter.SweepCompletedEvent) miniredis.PubsubMessage {
	t.Helper()

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(channel)
	got := make(chan miniredis.PubsubMessage, 1)
	go func() { got <- <-sub.Messages() }()

	if err := a.Publish(t.Context(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-got:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("no message on %s", channel)
		return miniredis.PubsubMessage{}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing url", Config{}, true},
		{"not a redis url", Config{URL: "not-a-redis-url"}, true},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}, true},
		{"defaults", Config{URL: "redis://localhost:6379"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = a.Close() }()
			if a.config.Channel != DefaultChannel || a.config.Timeout != DefaultTimeout {
				t.Errorf("config = %+v, want default channel and timeout", a.config)
			}
		})
	}
}

func TestChannelFor(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{DefaultChannel, DefaultChannel},
		{"nds:{source_id}", "nds:5"},
		{"nds:{agent_id}:{source_id}:{outcome}", "nds:3f2a9c41d07be815:5:failed"},
		{"nds:{unknown}", "nds:{unknown}"},
	}
	for _, tt := range tests {
		a := &Adapter{config: Config{Channel: tt.channel}}
		if got := a.ChannelFor(sweepOf("11", adapter.OutcomeFailed)); got != tt.want {
			t.Errorf("ChannelFor(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}

func TestPublish_DeliversToExpandedChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, mr, "nds:{source_id}:{outcome}")

	msg := publishAndReceive(t, mr, a, "nds:5:throttled", sweepOf("11", adapter.OutcomeThrottled))

	var got adapter.SweepCompletedEvent
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.LinkID != "11" || got.Outcome != adapter.OutcomeThrottled || got.Unseen != 4 {
		t.Errorf("event = %+v", got)
	}
}

func TestPublish_KeepsLatestSweepPerLink(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, mr, "")

	publishAndReceive(t, mr, a, DefaultChannel, sweepOf("11", adapter.OutcomeThrottled))
	publishAndReceive(t, mr, a, DefaultChannel, sweepOf("12", adapter.OutcomeCompleted))
	publishAndReceive(t, mr, a, DefaultChannel, sweepOf("11", adapter.OutcomeCompleted))

	keys, err := mr.HKeys(LastSweepKey)
	if err != nil {
		t.Fatalf("HKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("links tracked = %v, want 11 and 12", keys)
	}

	var latest adapter.SweepCompletedEvent
	if err := json.Unmarshal([]byte(mr.HGet(LastSweepKey, "11")), &latest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if latest.Outcome != adapter.OutcomeCompleted {
		t.Errorf("link 11 outcome = %q, want the later sweep", latest.Outcome)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		timeout time.Duration
		ctxWait time.Duration
	}{
		{"exhausts retries", 1, 100 * time.Millisecond, 0},
		{"context ends first", 5, 10 * time.Second, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: tt.retries, Timeout: tt.timeout})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer func() { _ = a.Close() }()

			ctx := t.Context()
			if tt.ctxWait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.ctxWait)
				defer cancel()
			}
			if err := a.Publish(ctx, sweepOf("11", adapter.OutcomeFailed)); err == nil {
				t.Fatal("expected error for unreachable redis")
			}
		})
	}
}

func TestPublish_AfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	start := time.Now()
	if err := a.Publish(t.Context(), sweepOf("11", adapter.OutcomeCompleted)); err == nil {
		t.Fatal("expected error after close")
	}
	// A closed client is not retried.
	if elapsed := time.Since(start); elapsed >= adapter.BaseBackoff {
		t.Errorf("Publish took %v, want no backoff", elapsed)
	}
}
