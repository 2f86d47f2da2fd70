package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// LogLevel represents the available log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// otelScope is the instrumentation scope used when logs are bridged to OpenTelemetry.
const otelScope = "github.com/fpt/agentbridge"

// Options configures where log records go.
type Options struct {
	Level LogLevel
	// Console receives the plain, human-oriented output. Defaults to stderr.
	Console io.Writer
	// FilePath is the structured log file. Empty means ~/.agentbridge/logs/agentbridge.log,
	// "-" disables file output.
	FilePath string
	// OTel additionally forwards records to the global OpenTelemetry logger provider.
	OTel bool
}

// Logger provides a structured logger instance configured for the application
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithOptions(Options{Level: level})
}

// NewLoggerWithConsoleWriter builds a logger that writes console output to the given writer
func NewLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) *Logger {
	return NewLoggerWithOptions(Options{Level: level, Console: consoleWriter})
}

// NewLoggerWithOptions builds a logger fanning out to console, file and optionally OpenTelemetry.
func NewLoggerWithOptions(opts Options) *Logger {
	slogLevel := parseLevel(opts.Level)

	// Console: plain, no time/level/msg labels
	consoleWriter := opts.Console
	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}
	handlers := []slog.Handler{newPlainHandler(consoleWriter, slogLevel)}

	// File: structured text with time and level
	if opts.FilePath != "-" {
		handlers = append(handlers, newFileTextHandler(opts.FilePath, slogLevel))
	}

	if opts.OTel {
		handlers = append(handlers, otelslog.NewHandler(otelScope))
	}

	return &Logger{Logger: slog.New(newMultiHandler(handlers...))}
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func parseLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to info
	}
}

// WithComponent creates a logger with a component context for better tracing
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With("component", component),
	}
}

// WithSession creates a logger with session context for request tracing
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.With("session", sessionID),
	}
}

// LogWithIntention logs a message at the provided level with an intention tag.
// The console handler turns the intention into an icon; files keep it as the "intention" key.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

// Warnings and errors do not carry intentions; intention is only for info/debug
func (l *Logger) WarnWithIntention(_ Intention, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorWithIntention(_ Intention, msg string, args ...any) {
	l.Error(msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// Default logger instance - single instance for the entire application
var Default = NewDefaultLogger()

// NewDefaultLogger creates a logger with INFO level for general use
func NewDefaultLogger() *Logger {
	return NewLogger(LogLevelInfo)
}

// SetGlobalLogger replaces the global Default logger.
func SetGlobalLogger(l *Logger) {
	Default = l
}

// NewComponentLogger creates a new logger for a specific component
func NewComponentLogger(component string) *Logger {
	return Default.WithComponent(component)
}

// DefaultLogPath returns ~/.agentbridge/logs/agentbridge.log.
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentbridge", "logs", "agentbridge.log")
}

// newFileTextHandler opens the log file for append and returns a slog text handler
func newFileTextHandler(path string, level slog.Level) slog.Handler {
	if path == "" {
		path = DefaultLogPath()
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Fallback to stderr if file cannot be opened
		return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format("15:04:05"))}
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}
