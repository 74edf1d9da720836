package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is the severity threshold of an AgentLogger.
type LogLevel = slog.Level

const (
	LogLevelDebug = slog.LevelDebug
	LogLevelInfo  = slog.LevelInfo
	LogLevelWarn  = slog.LevelWarn
	LogLevelError = slog.LevelError
)

// ParseLevel maps a config string to a LogLevel. Unknown values map to info.
func ParseLevel(s string) LogLevel {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return LogLevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return LogLevelInfo
	}
	return lvl
}

// Logger is the logging surface the engine, hooks, tools and stores depend on.
// Args are slog key/value pairs, so a *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	_ Logger = (*slog.Logger)(nil)
	_ Logger = (*AgentLogger)(nil)
	_ Logger = NoOpLogger{}
)

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig is JSON at info level on stdout.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// AgentLogger is a slog logger carrying run scoped attributes, with helpers
// for the events every execution emits.
type AgentLogger struct {
	*slog.Logger
}

// NewLogger builds an AgentLogger from cfg. A nil cfg means DefaultLoggerConfig.
func NewLogger(cfg *LoggerConfig) *AgentLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	hopts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var h slog.Handler = slog.NewJSONHandler(out, hopts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, hopts)
	}

	l := &AgentLogger{Logger: slog.New(h)}
	if cfg.Component != "" {
		return l.WithComponent(cfg.Component)
	}
	return l
}

// NewSlogLogger is NewLogger for the common level and format knobs.
func NewSlogLogger(level LogLevel, format string, addSource bool) *AgentLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.AddSource = addSource
	if format != "" {
		cfg.Format = format
	}
	return NewLogger(cfg)
}

// with derives a logger carrying the non-empty string pairs of kv.
func (l *AgentLogger) with(kv ...string) *AgentLogger {
	args := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			args = append(args, kv[i], kv[i+1])
		}
	}
	if len(args) == 0 {
		return l
	}
	return &AgentLogger{Logger: l.Logger.With(args...)}
}

// WithComponent tags entries with the emitting component (engine, hook, connector, ...).
func (l *AgentLogger) WithComponent(c string) *AgentLogger {
	return l.with("component", c)
}

// WithAgent tags entries with the agent and run identifiers.
func (l *AgentLogger) WithAgent(agentID, runID string) *AgentLogger {
	return l.with("agent_id", agentID, "run_id", runID)
}

// emit logs ok at info, or failed at error when the call did not succeed.
func (l *AgentLogger) emit(success bool, err error, ok, failed string, args ...any) {
	lvl, msg := slog.LevelInfo, ok
	if !success || err != nil {
		lvl, msg = slog.LevelError, failed
	}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Log(context.Background(), lvl, msg, args...)
}

// LogToolCall records one tool invocation.
func (l *AgentLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	l.emit(success, err, "tool.call.completed", "tool.call.failed",
		"tool_name", tool, "duration", dur, "success", success)
}

// LogModelCall records one model round trip.
func (l *AgentLogger) LogModelCall(model string, dur time.Duration, success bool, err error) {
	l.emit(success, err, "model.call.completed", "model.call.failed",
		"model", model, "duration", dur, "success", success)
}

// LogHook records a context management hook application.
func (l *AgentLogger) LogHook(point, hookType string, dur time.Duration, applied bool) {
	l.Debug("hook.applied", "hook_point", point, "hook_type", hookType, "duration", dur, "applied", applied)
}

// LogExecution records the outcome of a whole run.
func (l *AgentLogger) LogExecution(agentType string, iterations int, termination string, dur time.Duration, err error) {
	l.emit(err == nil, err, "engine.execute.completed", "engine.execute.failed",
		"agent_type", agentType, "iterations", iterations, "termination", termination, "duration", dur)
}

// NoOpLogger drops everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
