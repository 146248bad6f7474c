package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config represents an ndsagent.yaml configuration file.
// Values act as defaults for serve flags; CLI flags always override them.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Scanner ScannerConfig `yaml:"scanner"`
	Log     LogConfig     `yaml:"log"`
	Adapter AdapterConfig `yaml:"adapter"`
	Journal JournalConfig `yaml:"journal"`
}

// AppConfig identifies this agent and its HTTP front-end.
type AppConfig struct {
	// ID is the registered agent id. Derived when shorter than 5 characters.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServerConfig locates the backend inventory service.
type ServerConfig struct {
	Protocol string            `yaml:"protocol"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Timeout  Duration          `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// GatewayConfig tunes gateway connections.
type GatewayConfig struct {
	Path        string   `yaml:"path"`
	CallTimeout Duration `yaml:"call_timeout"`
}

// ScannerConfig tunes sweep pacing and batching.
type ScannerConfig struct {
	MinInterval Duration `yaml:"min_interval"`
	MaxInterval Duration `yaml:"max_interval"`
	BatchBytes  int64    `yaml:"batch_bytes"`
	AutoStart   bool     `yaml:"auto_start"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
	// Buffer is the number of lines kept for /logs/history.
	Buffer int `yaml:"buffer"`
}

// AdapterConfig holds sweep event adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// JournalConfig holds batch journal storage settings.
// An empty Backend disables the journal.
type JournalConfig struct {
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAppName        = "ndsagent"
	DefaultAppHost        = "0.0.0.0"
	DefaultAppPort        = 8000
	DefaultServerProtocol = "http"
	DefaultServerTimeout  = time.Hour
	DefaultCallTimeout    = 300 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogBuffer      = 1000
)

// minAgentIDLen is the shortest configured id used as-is.
const minAgentIDLen = 5

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills unset values. Scanner pacing and batch size are left
// zero so the scanner package picks its own defaults.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = DefaultAppName
	}
	if c.App.Host == "" {
		c.App.Host = DefaultAppHost
	}
	if c.App.Port == 0 {
		c.App.Port = DefaultAppPort
	}
	if c.Server.Protocol == "" {
		c.Server.Protocol = DefaultServerProtocol
	}
	if c.Server.Timeout.Duration == 0 {
		c.Server.Timeout.Duration = DefaultServerTimeout
	}
	if c.Gateway.CallTimeout.Duration == 0 {
		c.Gateway.CallTimeout.Duration = DefaultCallTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Buffer == 0 {
		c.Log.Buffer = DefaultLogBuffer
	}
}

// Validate checks the settings serve cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Host == "" {
		errs = append(errs, errors.New("server.host is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if p := c.Server.Protocol; p != "" && p != "http" && p != "https" {
		errs = append(errs, fmt.Errorf("server.protocol must be http or https, got %q", p))
	}
	if c.App.Port < 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port must be in 1..65535, got %d", c.App.Port))
	}
	minI, maxI := c.Scanner.MinInterval.Duration, c.Scanner.MaxInterval.Duration
	if minI < 0 || maxI < 0 {
		errs = append(errs, errors.New("scanner intervals must not be negative"))
	}
	if minI > 0 && maxI > 0 && maxI < minI {
		errs = append(errs, fmt.Errorf("scanner.max_interval %v is below min_interval %v", maxI, minI))
	}
	if c.Scanner.BatchBytes < 0 {
		errs = append(errs, errors.New("scanner.batch_bytes must not be negative"))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	switch c.Journal.Backend {
	case "":
	case "fs", "s3":
		if c.Journal.Path == "" {
			errs = append(errs, fmt.Errorf("journal.path is required for the %s backend", c.Journal.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.backend must be fs or s3, got %q", c.Journal.Backend))
	}
	return errors.Join(errs...)
}

// ResolveAgentID returns app.id, or a stable id derived from the app name
// and node when the configured id is shorter than 5 characters.
func (c *Config) ResolveAgentID(node string) (id string, derived bool) {
	if len(strings.TrimSpace(c.App.ID)) >= minAgentIDLen {
		return c.App.ID, false
	}
	return DeriveAgentID(c.App.Name, node), true
}

// DeriveAgentID builds a 16-hex-digit id from name and a node identifier.
//
// The seed is "{name}-{uuid5(DNS, node)}". Its SHA-256 hex digest is read
// as a base-26 integer, reduced mod 10^16 and rendered as 16 hex digits.
// This matches ids already registered by earlier agent deployments.
func DeriveAgentID(name, node string) string {
	seed := name + "-" + uuid.NewSHA1(uuid.NameSpaceDNS, []byte(node)).String()
	sum := sha256.Sum256([]byte(seed))

	n, ok := new(big.Int).SetString(hex.EncodeToString(sum[:]), 26)
	if !ok {
		// Unreachable: hex digits are valid base-26 digits.
		n = new(big.Int).SetBytes(sum[:])
	}
	n.Mod(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
	return fmt.Sprintf("%016x", n)
}
