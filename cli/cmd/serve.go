package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ndsagent/adapter"
	redisadapter "github.com/justapithecus/ndsagent/adapter/redis"
	"github.com/justapithecus/ndsagent/adapter/webhook"
	"github.com/justapithecus/ndsagent/backend"
	"github.com/justapithecus/ndsagent/cli/config"
	"github.com/justapithecus/ndsagent/iox"
	"github.com/justapithecus/ndsagent/journal"
	"github.com/justapithecus/ndsagent/log"
	"github.com/justapithecus/ndsagent/metrics"
	"github.com/justapithecus/ndsagent/scanner"
	"github.com/justapithecus/ndsagent/server"
	"github.com/justapithecus/ndsagent/types"
)

// unregisterTimeout bounds the shutdown unregister call.
const unregisterTimeout = 10 * time.Second

// ServeCommand returns the serve command, the only command that runs the
// agent. It registers with the backend, serves the HTTP front-end and scans
// once started.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scan agent",
		Flags: []cli.Flag{
			ConfigFlag,
			// Agent identity and front-end
			&cli.StringFlag{Name: "app-id", Usage: "Agent id (derived when shorter than 5 characters)"},
			&cli.StringFlag{Name: "app-name", Usage: "Application name", Value: config.DefaultAppName},
			&cli.StringFlag{Name: "host", Usage: "HTTP listen host", Value: config.DefaultAppHost},
			&cli.IntFlag{Name: "port", Usage: "HTTP listen port (advertised on registration)", Value: config.DefaultAppPort},
			// Backend
			&cli.StringFlag{Name: "server-protocol", Usage: "Backend protocol: http or https", Value: config.DefaultServerProtocol},
			&cli.StringFlag{Name: "server-host", Usage: "Backend host (required)"},
			&cli.IntFlag{Name: "server-port", Usage: "Backend port (required)"},
			&cli.DurationFlag{Name: "server-timeout", Usage: "Backend request timeout", Value: config.DefaultServerTimeout},
			// Gateway
			&cli.StringFlag{Name: "gateway-path", Usage: "Gateway WebSocket path prefix"},
			&cli.DurationFlag{Name: "call-timeout", Usage: "Per-call gateway timeout", Value: config.DefaultCallTimeout},
			// Scanner
			&cli.DurationFlag{Name: "min-interval", Usage: "Minimum time between sweeps", Value: scanner.DefaultMinInterval},
			&cli.DurationFlag{Name: "max-interval", Usage: "Target sweep cadence", Value: scanner.DefaultMaxInterval},
			&cli.Int64Flag{Name: "batch-bytes", Usage: "Batch size ceiling in bytes", Value: scanner.DefaultMaxBatchBytes},
			&cli.BoolFlag{Name: "auto-start", Usage: "Start scanning without waiting for /v1/control/start"},
			// Logging
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error", Value: config.DefaultLogLevel},
			&cli.IntFlag{Name: "log-buffer", Usage: "Log lines kept for /logs/history", Value: config.DefaultLogBuffer},
			// Adapter
			&cli.StringFlag{Name: "adapter", Usage: "Sweep event adapter: webhook or redis"},
			&cli.StringFlag{Name: "adapter-url", Usage: "Adapter endpoint URL"},
			&cli.StringFlag{Name: "adapter-channel", Usage: "Redis pub/sub channel; {agent_id}, {source_id} and {outcome} expand per event"},
			&cli.StringSliceFlag{Name: "adapter-header", Usage: "Webhook header as key=value (repeatable)"},
			&cli.DurationFlag{Name: "adapter-timeout", Usage: "Adapter publish timeout"},
			&cli.IntFlag{Name: "adapter-retries", Usage: "Adapter retry attempts", Value: webhook.DefaultRetries},
			// Journal
			&cli.StringFlag{Name: "journal-backend", Usage: "Batch journal backend: fs or s3 (empty disables)"},
			&cli.StringFlag{Name: "journal-path", Usage: "Journal location (fs: directory, s3: bucket/prefix)"},
			&cli.StringFlag{Name: "journal-dataset", Usage: "Journal dataset id", Value: journal.DefaultDataset},
			&cli.StringFlag{Name: "journal-region", Usage: "AWS region for the s3 journal"},
			&cli.StringFlag{Name: "journal-endpoint", Usage: "Custom S3 endpoint"},
			&cli.BoolFlag{Name: "journal-s3-path-style", Usage: "Use path-style S3 addressing"},
		},
		Action: serveAction,
	}
}

// resolveServeConfig merges CLI flags over the config file.
func resolveServeConfig(c *cli.Context, file *config.Config) (*config.Config, error) {
	cfg := &config.Config{
		App: config.AppConfig{
			ID:   resolveString(c, "app-id", configVal(file, func(f *config.Config) string { return f.App.ID })),
			Name: resolveString(c, "app-name", configVal(file, func(f *config.Config) string { return f.App.Name })),
			Host: resolveString(c, "host", configVal(file, func(f *config.Config) string { return f.App.Host })),
			Port: resolveInt(c, "port", configVal(file, func(f *config.Config) int { return f.App.Port })),
		},
		Server: config.ServerConfig{
			Protocol: resolveString(c, "server-protocol", configVal(file, func(f *config.Config) string { return f.Server.Protocol })),
			Host:     resolveString(c, "server-host", configVal(file, func(f *config.Config) string { return f.Server.Host })),
			Port:     resolveInt(c, "server-port", configVal(file, func(f *config.Config) int { return f.Server.Port })),
			Timeout: config.Duration{Duration: resolveDuration(c, "server-timeout",
				configVal(file, func(f *config.Config) time.Duration { return f.Server.Timeout.Duration }))},
			Headers: configVal(file, func(f *config.Config) map[string]string { return f.Server.Headers }),
		},
		Gateway: config.GatewayConfig{
			Path: resolveString(c, "gateway-path", configVal(file, func(f *config.Config) string { return f.Gateway.Path })),
			CallTimeout: config.Duration{Duration: resolveDuration(c, "call-timeout",
				configVal(file, func(f *config.Config) time.Duration { return f.Gateway.CallTimeout.Duration }))},
		},
		Scanner: config.ScannerConfig{
			MinInterval: config.Duration{Duration: resolveDuration(c, "min-interval",
				configVal(file, func(f *config.Config) time.Duration { return f.Scanner.MinInterval.Duration }))},
			MaxInterval: config.Duration{Duration: resolveDuration(c, "max-interval",
				configVal(file, func(f *config.Config) time.Duration { return f.Scanner.MaxInterval.Duration }))},
			BatchBytes: resolveInt64(c, "batch-bytes", configVal(file, func(f *config.Config) int64 { return f.Scanner.BatchBytes })),
			AutoStart:  resolveBool(c, "auto-start", configVal(file, func(f *config.Config) bool { return f.Scanner.AutoStart })),
		},
		Log: config.LogConfig{
			Level:  resolveString(c, "log-level", configVal(file, func(f *config.Config) string { return f.Log.Level })),
			Buffer: resolveInt(c, "log-buffer", configVal(file, func(f *config.Config) int { return f.Log.Buffer })),
		},
		Journal: config.JournalConfig{
			Backend:     resolveString(c, "journal-backend", configVal(file, func(f *config.Config) string { return f.Journal.Backend })),
			Path:        resolveString(c, "journal-path", configVal(file, func(f *config.Config) string { return f.Journal.Path })),
			Dataset:     resolveString(c, "journal-dataset", configVal(file, func(f *config.Config) string { return f.Journal.Dataset })),
			Region:      resolveString(c, "journal-region", configVal(file, func(f *config.Config) string { return f.Journal.Region })),
			Endpoint:    resolveString(c, "journal-endpoint", configVal(file, func(f *config.Config) string { return f.Journal.Endpoint })),
			S3PathStyle: resolveBool(c, "journal-s3-path-style", configVal(file, func(f *config.Config) bool { return f.Journal.S3PathStyle })),
		},
	}

	adapterType := resolveString(c, "adapter", configVal(file, func(f *config.Config) string { return f.Adapter.Type }))
	ac, err := parseAdapterConfigWithPrecedence(c, file, adapterType)
	if err != nil {
		return nil, err
	}
	if ac != nil {
		retries := ac.retries
		cfg.Adapter = config.AdapterConfig{
			Type:    ac.adapterType,
			URL:     ac.url,
			Channel: ac.channel,
			Headers: ac.headers,
			Timeout: config.Duration{Duration: ac.timeout},
			Retries: &retries,
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// adapterChoice holds parsed adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

// parseAdapterConfigWithPrecedence resolves adapter settings. Returns nil
// when no adapter is configured. Config headers are merged under CLI ones.
func parseAdapterConfigWithPrecedence(c *cli.Context, file *config.Config, adapterType string) (*adapterChoice, error) {
	if adapterType == "" {
		return nil, nil
	}

	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(file, func(f *config.Config) string { return f.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(file, func(f *config.Config) string { return f.Adapter.Channel })),
		timeout: resolveDuration(c, "adapter-timeout",
			configVal(file, func(f *config.Config) time.Duration { return f.Adapter.Timeout.Duration })),
		retries: c.Int("adapter-retries"),
		headers: map[string]string{},
	}
	if !c.IsSet("adapter-retries") {
		if r := configVal(file, func(f *config.Config) *int { return f.Adapter.Retries }); r != nil {
			ac.retries = *r
		}
	}

	for k, v := range configVal(file, func(f *config.Config) map[string]string { return f.Adapter.Headers }) {
		ac.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q: expected key=value", h)
		}
		ac.headers[strings.TrimSpace(k)] = v
	}

	switch adapterType {
	case "webhook":
		if ac.url == "" {
			return nil, errors.New("--adapter-url is required when --adapter=webhook")
		}
	case "redis":
		if ac.url == "" {
			return nil, errors.New("--adapter-url is required when --adapter=redis")
		}
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", adapterType)
	}
	return ac, nil
}

// buildAdapter creates the configured adapter, or nil when none is set.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := webhook.DefaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		a, err := redisadapter.New(redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// buildJournal opens the configured journal, or nil when disabled.
func buildJournal(ctx context.Context, cfg config.JournalConfig, agentID string) (*journal.Journal, error) {
	jc := journal.Config{Dataset: cfg.Dataset, AgentID: agentID}

	switch cfg.Backend {
	case "":
		return nil, nil
	case "fs":
		return journal.NewFS(jc, cfg.Path)
	case "s3":
		bucket, prefix := journal.ParseS3Path(cfg.Path)
		return journal.NewS3(ctx, jc, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown journal backend %q (must be fs or s3)", cfg.Backend)
	}
}

func storageName(backendName string) string {
	if backendName == "" {
		return "none"
	}
	return backendName
}

func serveAction(c *cli.Context) error {
	file, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg, err := resolveServeConfig(c, file)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}

	agentID, derived := cfg.ResolveAgentID(config.NodeID())
	agent := &types.AgentMeta{ID: agentID, Name: cfg.App.Name, Port: cfg.App.Port}
	if err := agent.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	hub := log.NewHub(cfg.Log.Buffer)
	logger, err := log.NewLoggerWithOptions(agent, log.Options{Level: cfg.Log.Level, Hub: hub})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardErr(logger.Sync)
	if derived {
		logger.Info("generated agent id", map[string]any{"agent_id": agentID})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bc, err := backend.New(backend.Config{
		BaseURL: backend.BaseURL(cfg.Server.Protocol, cfg.Server.Host, cfg.Server.Port),
		AgentID: agentID,
		Port:    cfg.App.Port,
		Headers: cfg.Server.Headers,
		Timeout: cfg.Server.Timeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}
	defer iox.DiscardClose(bc)

	pub, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), 1)
	}
	if pub != nil {
		defer iox.DiscardClose(pub)
	}

	jr, err := buildJournal(ctx, cfg.Journal, agentID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open journal: %v", err), 1)
	}

	collector := metrics.NewCollector(agentID, storageName(cfg.Journal.Backend), storageName(cfg.Adapter.Type))

	scfg := scanner.Config{
		Backend:       bc,
		NewGateway:    scanner.NewGatewayFactory(cfg.Gateway.Path, cfg.Gateway.CallTimeout.Duration, logger),
		MinInterval:   cfg.Scanner.MinInterval.Duration,
		MaxInterval:   cfg.Scanner.MaxInterval.Duration,
		MaxBatchBytes: cfg.Scanner.BatchBytes,
		AgentID:       agentID,
		Logger:        logger,
		Metrics:       collector,
		Adapter:       pub,
	}
	if jr != nil {
		defer iox.DiscardClose(jr)
		scfg.Journal = jr
	}
	orch, err := scanner.New(scfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid scanner configuration: %v", err), 1)
	}

	srv, err := server.New(server.Config{
		Addr:    net.JoinHostPort(cfg.App.Host, strconv.Itoa(cfg.App.Port)),
		Agent:   *agent,
		Scanner: orch,
		Metrics: collector,
		Hub:     hub,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("registering agent", map[string]any{"app_name": cfg.App.Name})
	if err := bc.Register(ctx); err != nil {
		logger.Error("registration failed", map[string]any{"error": err.Error()})
	} else {
		logger.Info("registration succeeded", nil)
	}

	if cfg.Scanner.AutoStart {
		if msg, err := orch.Start(ctx); err != nil {
			logger.Error("auto-start failed", map[string]any{"error": err.Error()})
		} else {
			logger.Info("auto-start", map[string]any{"result": msg})
		}
	}

	runErr := srv.Run(ctx)

	orch.Stop()
	unregCtx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if err := bc.Unregister(unregCtx); err != nil {
		logger.Error("unregister failed", map[string]any{"error": err.Error()})
	} else {
		logger.Info("unregistered agent", nil)
	}

	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	return nil
}
