package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/justapithecus/ndsagent/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func newTestLogger(t *testing.T, agent *types.AgentMeta, buf *bytes.Buffer) *Logger {
	t.Helper()
	logger, err := NewLoggerWithOptions(agent, Options{Output: buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return logger
}

func TestLogger_IncludesAgentContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &types.AgentMeta{ID: "agent-1", Name: "scanner"}, &buf)

	logger.Info("sweep completed", map[string]any{"nds_id": "2"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["agent_id"] != "agent-1" {
		t.Errorf("expected agent_id agent-1, got %v", entry["agent_id"])
	}
	if entry["agent_name"] != "scanner" {
		t.Errorf("expected agent_name scanner, got %v", entry["agent_name"])
	}
	if entry["message"] != "sweep completed" {
		t.Errorf("unexpected message %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["nds_id"] != "2" {
		t.Errorf("expected fields.nds_id=2, got %v", entry["fields"])
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &types.AgentMeta{ID: "agent-1"}, &buf).
		With(map[string]any{"component": "scanner"})

	logger.Warn("throttled", nil)

	lines := decodeLines(t, &buf)
	if lines[0]["component"] != "scanner" {
		t.Errorf("expected component field, got %v", lines[0])
	}
	if lines[0]["level"] != "warn" {
		t.Errorf("expected warn level, got %v", lines[0]["level"])
	}
}

func TestNewLoggerWithOptions_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerWithOptions(&types.AgentMeta{ID: "a"}, Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	logger.Info("dropped", nil)
	logger.Error("kept", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "kept" {
		t.Errorf("expected only the error line, got %v", lines)
	}

	if _, err := NewLoggerWithOptions(nil, Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewLoggerWithOptions_TeesToHub(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(10)
	logger, err := NewLoggerWithOptions(&types.AgentMeta{ID: "a"}, Options{Output: &buf, Hub: hub})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	logger.Info("hello", nil)

	history := hub.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 hub line, got %d", len(history))
	}
	if !bytes.Contains(history[0], []byte(`"hello"`)) {
		t.Errorf("hub line missing message: %s", history[0])
	}
	if buf.Len() == 0 {
		t.Error("primary output should also receive the entry")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	logger.Error("ignored", map[string]any{"k": "v"})
	if logger.With(map[string]any{"k": "v"}) != nil {
		t.Error("With on nil logger should return nil")
	}
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync on nil logger: %v", err)
	}
}
