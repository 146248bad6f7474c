// Package server hosts the agent's HTTP front-end: app info, health,
// the start control, scan statistics, Prometheus metrics and the live log
// stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justapithecus/ndsagent/log"
	"github.com/justapithecus/ndsagent/metrics"
	"github.com/justapithecus/ndsagent/scanner"
	"github.com/justapithecus/ndsagent/types"
)

// Response codes carried in the envelope. The HTTP status is always 200.
const (
	CodeOK         = 200
	CodeBadRequest = 400
	CodeInternal   = 500
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Scanner is the orchestrator surface the front-end drives.
type Scanner interface {
	Start(ctx context.Context) (string, error)
	State() types.AgentState
	ActiveLoops() []scanner.LoopStatus
	LoopCount() int
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. 0.0.0.0:8000.
	Addr string
	// Agent identifies this process in responses.
	Agent types.AgentMeta
	// Scanner is the orchestrator (required).
	Scanner Scanner
	// Metrics is the scan collector exported on /v1/stats and /metrics.
	Metrics *metrics.Collector
	// Hub backs /logs/history and /logs/ws (required).
	Hub *log.Hub
	// Logger is optional.
	Logger *log.Logger
}

// Envelope wraps every JSON response.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
}

// AppInfo is the / payload.
type AppInfo struct {
	AppName string `json:"app_name"`
	AppID   string `json:"app_id"`
	Version string `json:"version"`
}

// Health is the /health payload.
type Health struct {
	Status        string           `json:"status"`
	State         types.AgentState `json:"state"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Goroutines    int              `json:"goroutines"`
	ActiveLoops   int              `json:"active_loops"`
}

// Stats is the /v1/stats payload.
type Stats struct {
	State   types.AgentState     `json:"state"`
	Metrics metrics.Snapshot     `json:"metrics"`
	Loops   []scanner.LoopStatus `json:"loops"`
}

// Server is the process-lifetime HTTP front-end.
type Server struct {
	cfg      Config
	logger   *log.Logger
	started  time.Time
	registry *prometheus.Registry
	upgrader websocket.Upgrader
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Scanner == nil {
		return nil, errors.New("server requires a scanner")
	}
	if cfg.Hub == nil {
		return nil, errors.New("server requires a log hub")
	}
	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With(map[string]any{"component": "server"}),
		started:  time.Now(),
		registry: metrics.NewRegistry(cfg.Metrics, cfg.Scanner.LoopCount),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/control/start", s.handleStart)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /logs/history", s.handleLogHistory)
	mux.HandleFunc("GET /logs/ws", s.handleLogStream)
	return mux
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http front-end listening", map[string]any{"addr": s.cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http front-end shutting down", nil)
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, CodeOK, "success", AppInfo{
		AppName: s.cfg.Agent.Name,
		AppID:   s.cfg.Agent.ID,
		Version: types.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, CodeOK, "success", Health{
		Status:        "ok",
		State:         s.cfg.Scanner.State(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		ActiveLoops:   s.cfg.Scanner.LoopCount(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	msg, err := s.cfg.Scanner.Start(r.Context())
	if err != nil {
		code := CodeInternal
		if errors.Is(err, scanner.ErrMisconfiguredSource) {
			code = CodeBadRequest
		}
		writeEnvelope(w, code, err.Error(), nil)
		return
	}
	writeEnvelope(w, CodeOK, "success", msg)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, CodeOK, "success", Stats{
		State:   s.cfg.Scanner.State(),
		Metrics: s.cfg.Metrics.Snapshot(),
		Loops:   s.cfg.Scanner.ActiveLoops(),
	})
}

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Envelope{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: uuid.NewString(),
	})
}
