package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justapithecus/ndsagent/log"
	"github.com/justapithecus/ndsagent/metrics"
	"github.com/justapithecus/ndsagent/scanner"
	"github.com/justapithecus/ndsagent/types"
)

type fakeScanner struct {
	mu     sync.Mutex
	msg    string
	err    error
	state  types.AgentState
	starts int
	loops  []scanner.LoopStatus
}

func (f *fakeScanner) Start(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err == nil {
		f.state = types.StateRunning
	}
	return f.msg, f.err
}

func (f *fakeScanner) State() types.AgentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScanner) ActiveLoops() []scanner.LoopStatus { return f.loops }
func (f *fakeScanner) LoopCount() int                    { return len(f.loops) }

type testEnv struct {
	srv    *httptest.Server
	sc     *fakeScanner
	hub    *log.Hub
	logger *log.Logger
	mc     *metrics.Collector
}

func newTestEnv(t *testing.T, sc *fakeScanner) *testEnv {
	t.Helper()
	hub := log.NewHub(10)
	logger, err := log.NewLoggerWithOptions(&types.AgentMeta{ID: "agent-1"}, log.Options{
		Output: io.Discard,
		Hub:    hub,
	})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	mc := metrics.NewCollector("agent-1", "fs", "none")

	s, err := New(Config{
		Addr:    "127.0.0.1:0",
		Agent:   types.AgentMeta{ID: "agent-1", Name: "ndsagent", Port: 8000},
		Scanner: sc,
		Metrics: mc,
		Hub:     hub,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sc: sc, hub: hub, logger: logger, mc: mc}
}

func getEnvelope(t *testing.T, url string, data any) Envelope {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}

	var raw struct {
		Envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.RequestID == "" {
		t.Error("missing request_id")
	}
	if data != nil && len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return raw.Envelope
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Hub: log.NewHub(1)}); err == nil {
		t.Error("expected error without scanner")
	}
	if _, err := New(Config{Scanner: &fakeScanner{}}); err == nil {
		t.Error("expected error without hub")
	}
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{state: types.StateStopped})

	var info AppInfo
	e := getEnvelope(t, env.srv.URL+"/", &info)
	if e.Code != CodeOK {
		t.Errorf("code = %d", e.Code)
	}
	if info.AppID != "agent-1" || info.AppName != "ndsagent" || info.Version != types.Version {
		t.Errorf("info = %+v", info)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{
		state: types.StateRunning,
		loops: []scanner.LoopStatus{{LinkID: "11", SourceID: "s1"}},
	})

	var h Health
	getEnvelope(t, env.srv.URL+"/health", &h)
	if h.Status != "ok" || h.State != types.StateRunning || h.ActiveLoops != 1 || h.Goroutines == 0 {
		t.Errorf("health = %+v", h)
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name     string
		sc       *fakeScanner
		wantCode int
		wantData string
	}{
		{"started", &fakeScanner{state: types.StateStopped, msg: scanner.MsgStarted}, CodeOK, scanner.MsgStarted},
		{"already started", &fakeScanner{state: types.StateRunning, msg: scanner.MsgAlreadyStarted}, CodeOK, scanner.MsgAlreadyStarted},
		{"misconfigured", &fakeScanner{state: types.StateStopped, err: scanner.ErrNoGateway}, CodeBadRequest, ""},
		{"backend down", &fakeScanner{state: types.StateStopped, err: context.DeadlineExceeded}, CodeInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.sc)

			var data string
			e := getEnvelope(t, env.srv.URL+"/v1/control/start", &data)
			if e.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (message %q)", e.Code, tt.wantCode, e.Message)
			}
			if data != tt.wantData {
				t.Errorf("data = %q, want %q", data, tt.wantData)
			}
			if tt.sc.starts != 1 {
				t.Errorf("starts = %d, want 1", tt.sc.starts)
			}
		})
	}
}

func TestStart_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{})
	resp, err := http.Post(env.srv.URL+"/v1/control/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{
		state: types.StateRunning,
		loops: []scanner.LoopStatus{{LinkID: "11", SourceID: "s1", Sweeps: 3}},
	})
	env.mc.IncSweepStarted()
	env.mc.IncBatchAccepted(5)

	var stats Stats
	getEnvelope(t, env.srv.URL+"/v1/stats", &stats)
	if stats.State != types.StateRunning {
		t.Errorf("state = %s", stats.State)
	}
	if stats.Metrics.SweepsStarted != 1 || stats.Metrics.RecordsSubmitted != 5 || stats.Metrics.AgentID != "agent-1" {
		t.Errorf("metrics = %+v", stats.Metrics)
	}
	if len(stats.Loops) != 1 || stats.Loops[0].Sweeps != 3 {
		t.Errorf("loops = %+v", stats.Loops)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{loops: []scanner.LoopStatus{{LinkID: "11"}}})
	env.mc.IncSweepStarted()

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`ndsagent_sweeps_started_total{agent_id="agent-1"} 1`,
		`ndsagent_active_loops{agent_id="agent-1"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestLogHistory(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{})
	env.logger.Info("first", nil)
	env.logger.Warn("second", map[string]any{"nds_id": "s1"})

	var lines []map[string]any
	getEnvelope(t, env.srv.URL+"/logs/history", &lines)

	// Server construction itself may log; look at the tail.
	if len(lines) < 2 {
		t.Fatalf("lines = %d, want >= 2", len(lines))
	}
	last := lines[len(lines)-1]
	if last["message"] != "second" || last["level"] != "warn" || last["agent_id"] != "agent-1" {
		t.Errorf("last line = %v", last)
	}
}

func TestRawLine(t *testing.T) {
	if got := string(rawLine([]byte("{\"a\":1}\n"))); got != `{"a":1}` {
		t.Errorf("json line = %s", got)
	}
	if got := string(rawLine([]byte("plain text\n"))); got != `"plain text"` {
		t.Errorf("text line = %s", got)
	}
}

func dialLogs(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/logs/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestLogStream_ReplaysHistoryThenTails(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{})
	env.logger.Info("before connect", nil)

	conn := dialLogs(t, env)
	if got := readText(t, conn); !strings.Contains(got, "before connect") {
		t.Fatalf("first frame = %s, want history", got)
	}

	// Wait until the handler has subscribed.
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.logger.Info("after connect", nil)
	if got := readText(t, conn); !strings.Contains(got, "after connect") {
		t.Errorf("live frame = %s", got)
	}
}

func TestLogStream_HeartbeatEchoed(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{})
	conn := dialLogs(t, env)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("heartbeat")); err != nil {
		t.Fatal(err)
	}
	if got := readText(t, conn); got != "heartbeat" {
		t.Errorf("reply = %q, want heartbeat", got)
	}
}

func TestLogStream_UnsubscribesOnClose(t *testing.T) {
	env := newTestEnv(t, &fakeScanner{})
	conn := dialLogs(t, env)

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer still subscribed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
