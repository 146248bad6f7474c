// Package log provides structured logging with agent context.
//
// Entries are JSON lines carrying the agent identity. All Logger methods
// are nil-receiver safe so components may take an optional logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/ndsagent/types"
)

// Logger provides structured logging with agent context.
// All log entries include the agent identity fields.
type Logger struct {
	zap *zap.Logger
}

// Options configures NewLoggerWithOptions.
type Options struct {
	// Level is the minimum level: debug, info, warn, error (default debug).
	Level string
	// Output is the primary writer (default os.Stderr).
	Output io.Writer
	// Hub, if set, receives a copy of every entry for live tailing.
	Hub *Hub
}

// NewLoggerWithOptions creates a logger with a configured level, writer and
// optional live-tail hub.
func NewLoggerWithOptions(agent *types.AgentMeta, opts Options) (*Logger, error) {
	level := zapcore.DebugLevel
	if opts.Level != "" {
		if err := level.Set(strings.ToLower(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	core := newCore(out, level)
	if opts.Hub != nil {
		core = zapcore.NewTee(core, newCore(opts.Hub, level))
	}

	return &Logger{zap: zap.New(core).With(contextFields(agent)...)}, nil
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{zap: l.zap.With(zf...)}
}

func newCore(w io.Writer, level zapcore.Level) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
}

func contextFields(agent *types.AgentMeta) []zap.Field {
	if agent == nil {
		return nil
	}
	fields := []zap.Field{zap.String("agent_id", agent.ID)}
	if agent.Name != "" {
		fields = append(fields, zap.String("agent_name", agent.Name))
	}
	return fields
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}
