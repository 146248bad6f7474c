package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `app:
  id: 0123456789abcdef
  name: field-scanner
  host: 127.0.0.1
  port: 8100

server:
  protocol: https
  host: inventory.example.com
  port: 8443
  timeout: 30m
  headers:
    Authorization: Bearer token123

gateway:
  path: /v1/nds/ws
  call_timeout: 2m

scanner:
  min_interval: 30s
  max_interval: 10m
  batch_bytes: 1048576
  auto_start: true

log:
  level: debug
  buffer: 500

adapter:
  type: webhook
  url: https://hooks.example.com/ndsagent
  headers:
    X-Token: abc
  timeout: 10s
  retries: 3

journal:
  backend: s3
  dataset: audit
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// App
	assertEqual(t, "app.id", cfg.App.ID, "0123456789abcdef")
	assertEqual(t, "app.name", cfg.App.Name, "field-scanner")
	if cfg.App.Port != 8100 {
		t.Errorf("expected app.port=8100, got %d", cfg.App.Port)
	}

	// Server
	assertEqual(t, "server.protocol", cfg.Server.Protocol, "https")
	assertEqual(t, "server.host", cfg.Server.Host, "inventory.example.com")
	if cfg.Server.Timeout.Duration != 30*time.Minute {
		t.Errorf("expected server.timeout=30m, got %v", cfg.Server.Timeout.Duration)
	}
	assertEqual(t, "server.headers", cfg.Server.Headers["Authorization"], "Bearer token123")

	// Gateway
	assertEqual(t, "gateway.path", cfg.Gateway.Path, "/v1/nds/ws")
	if cfg.Gateway.CallTimeout.Duration != 2*time.Minute {
		t.Errorf("expected gateway.call_timeout=2m, got %v", cfg.Gateway.CallTimeout.Duration)
	}

	// Scanner
	if cfg.Scanner.MinInterval.Duration != 30*time.Second || cfg.Scanner.MaxInterval.Duration != 10*time.Minute {
		t.Errorf("unexpected scanner intervals: %+v", cfg.Scanner)
	}
	if cfg.Scanner.BatchBytes != 1048576 || !cfg.Scanner.AutoStart {
		t.Errorf("unexpected scanner settings: %+v", cfg.Scanner)
	}

	// Log
	assertEqual(t, "log.level", cfg.Log.Level, "debug")
	if cfg.Log.Buffer != 500 {
		t.Errorf("expected log.buffer=500, got %d", cfg.Log.Buffer)
	}

	// Adapter
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/ndsagent")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("expected adapter.timeout=10s, got %v", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("expected adapter.retries=3, got %v", cfg.Adapter.Retries)
	}

	// Journal
	assertEqual(t, "journal.backend", cfg.Journal.Backend, "s3")
	assertEqual(t, "journal.dataset", cfg.Journal.Dataset, "audit")
	assertEqual(t, "journal.path", cfg.Journal.Path, "my-bucket/prefix")
	if !cfg.Journal.S3PathStyle {
		t.Error("expected journal.s3_path_style=true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed for empty config: %v", err)
	}
	if cfg.Server.Host != "" {
		t.Errorf("expected empty server.host, got %q", cfg.Server.Host)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/ndsagent.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "server: [invalid yaml\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_NDS_BACKEND", "10.1.2.3")
	path := writeTemp(t, "server:\n  host: ${TEST_NDS_BACKEND}\n  port: ${TEST_NDS_PORT:-9090}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "server.host", cfg.Server.Host, "10.1.2.3")
	if cfg.Server.Port != 9090 {
		t.Errorf("expected server.port=9090, got %d", cfg.Server.Port)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `app:
  name: x
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `journal:
  backend: fs
  path: ./data
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_CommentsOnlyConfig(t *testing.T) {
	path := writeTemp(t, "# This is a comment\n# Another comment\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed for comments-only config: %v", err)
	}
	if cfg.App.Name != "" {
		t.Errorf("expected empty app.name, got %q", cfg.App.Name)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	yaml := `adapter:
  type: webhook
  url: https://example.com
  retries: 0
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil {
		t.Fatal("expected retries to be non-nil")
	}
	if *cfg.Adapter.Retries != 0 {
		t.Errorf("expected retries=0, got %d", *cfg.Adapter.Retries)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	path := writeTemp(t, "scanner:\n  min_interval: soon\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	path := writeTemp(t, "scanner:\n  min_interval: \"\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scanner.MinInterval.Duration != 0 {
		t.Errorf("expected zero duration, got %v", cfg.Scanner.MinInterval.Duration)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "h", Port: 1}}
	cfg.ApplyDefaults()

	assertEqual(t, "app.name", cfg.App.Name, DefaultAppName)
	assertEqual(t, "server.protocol", cfg.Server.Protocol, "http")
	assertEqual(t, "log.level", cfg.Log.Level, "info")
	if cfg.App.Port != DefaultAppPort {
		t.Errorf("app.port = %d, want %d", cfg.App.Port, DefaultAppPort)
	}
	if cfg.Server.Timeout.Duration != time.Hour {
		t.Errorf("server.timeout = %v, want 1h", cfg.Server.Timeout.Duration)
	}
	if cfg.Gateway.CallTimeout.Duration != 300*time.Second {
		t.Errorf("gateway.call_timeout = %v, want 300s", cfg.Gateway.CallTimeout.Duration)
	}
	if cfg.Log.Buffer != DefaultLogBuffer {
		t.Errorf("log.buffer = %d, want %d", cfg.Log.Buffer, DefaultLogBuffer)
	}
	if cfg.Scanner.MinInterval.Duration != 0 {
		t.Error("scanner pacing must stay unset for the scanner's own defaults")
	}

	// Set values survive.
	cfg = &Config{App: AppConfig{Name: "custom", Port: 9}}
	cfg.ApplyDefaults()
	if cfg.App.Name != "custom" || cfg.App.Port != 9 {
		t.Errorf("ApplyDefaults overwrote set values: %+v", cfg.App)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Server: ServerConfig{Protocol: "http", Host: "backend", Port: 8080}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.Server.Host = "" }, "server.host"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad protocol", func(c *Config) { c.Server.Protocol = "ftp" }, "server.protocol"},
		{"inverted intervals", func(c *Config) {
			c.Scanner.MinInterval.Duration = time.Minute
			c.Scanner.MaxInterval.Duration = time.Second
		}, "max_interval"},
		{"negative batch", func(c *Config) { c.Scanner.BatchBytes = -1 }, "batch_bytes"},
		{"unknown adapter", func(c *Config) { c.Adapter.Type = "kafka"; c.Adapter.URL = "x" }, "adapter.type"},
		{"adapter without url", func(c *Config) { c.Adapter.Type = "redis" }, "adapter.url"},
		{"journal without path", func(c *Config) { c.Journal.Backend = "fs" }, "journal.path"},
		{"unknown journal", func(c *Config) { c.Journal.Backend = "gcs"; c.Journal.Path = "x" }, "journal.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDeriveAgentID(t *testing.T) {
	id := DeriveAgentID("ndsagent", "123456789")
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(id) {
		t.Fatalf("id %q is not 16 hex digits", id)
	}
	if again := DeriveAgentID("ndsagent", "123456789"); again != id {
		t.Errorf("derivation not stable: %q != %q", again, id)
	}
	if other := DeriveAgentID("ndsagent", "987654321"); other == id {
		t.Error("different nodes derived the same id")
	}
	if other := DeriveAgentID("other", "123456789"); other == id {
		t.Error("different names derived the same id")
	}
}

func TestResolveAgentID(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		wantDerived bool
	}{
		{"configured", "agent-0042", false},
		{"empty", "", true},
		{"too short", "abcd", true},
		{"whitespace", "      ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{App: AppConfig{ID: tt.id, Name: "ndsagent"}}
			got, derived := cfg.ResolveAgentID("node-1")
			if derived != tt.wantDerived {
				t.Errorf("derived = %v, want %v", derived, tt.wantDerived)
			}
			if !derived && got != tt.id {
				t.Errorf("id = %q, want configured %q", got, tt.id)
			}
			if derived && got != DeriveAgentID("ndsagent", "node-1") {
				t.Errorf("id = %q, want derived id", got)
			}
		})
	}
}

func TestNodeID_NonEmpty(t *testing.T) {
	if NodeID() == "" {
		t.Error("NodeID returned empty string")
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ndsagent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
