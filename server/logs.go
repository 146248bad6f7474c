package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// heartbeat is echoed back to live log viewers.
const heartbeat = "heartbeat"

// writeWait bounds one frame write to a viewer.
const writeWait = 10 * time.Second

func (s *Server) handleLogHistory(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, CodeOK, "success", historyLines(s.cfg.Hub.History()))
}

// historyLines converts encoded entries to raw JSON values. Entries that
// are not valid JSON are returned as strings.
func historyLines(lines [][]byte) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(lines))
	for _, line := range lines {
		out = append(out, rawLine(line))
	}
	return out
}

func rawLine(line []byte) json.RawMessage {
	line = bytes.TrimSpace(line)
	if json.Valid(line) {
		return json.RawMessage(line)
	}
	quoted, _ := json.Marshal(string(line))
	return quoted
}

// handleLogStream replays the retained history and then tails new entries
// until the viewer disconnects. Text frames reading "heartbeat" are echoed.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("log stream upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	// Subscribe before reading history so no entry falls between the two.
	lines, cancel := s.cfg.Hub.Subscribe()
	defer cancel()
	history := s.cfg.Hub.History()

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && string(data) == heartbeat {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	send := func(mt int, data []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(mt, data) == nil
	}

	for _, line := range history {
		if !send(websocket.TextMessage, rawLine(line)) {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-pings:
			if !send(websocket.TextMessage, []byte(heartbeat)) {
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !send(websocket.TextMessage, rawLine(line)) {
				return
			}
		}
	}
}
