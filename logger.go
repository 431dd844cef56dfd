package interviewrt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// LogLevelDebug logs everything including detailed debugging information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo logs informational messages and above
	LogLevelInfo
	// LogLevelWarn logs warnings and above
	LogLevelWarn
	// LogLevelError logs only errors
	LogLevelError
	// LogLevelOff disables all logging
	LogLevelOff
)

// LogLevelEnv names the environment variable read by NewLoggerFromEnv.
const LogLevelEnv = "INTERVIEWRT_LOG_LEVEL"

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	case "OFF":
		return LogLevelOff
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides leveled event logging on top of slog. Every record is an
// event name plus a field map.
type Logger struct {
	level  atomic.Int32
	slog   *slog.Logger
	fields map[string]any
}

// NewLogger creates a logger writing text records to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(os.Stderr, level)
}

// NewLoggerWithWriter creates a logger writing text records to w.
func NewLoggerWithWriter(w io.Writer, level LogLevel) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := &Logger{slog: slog.New(h).With("component", "interviewrt")}
	l.level.Store(int32(level))
	return l
}

// NewLoggerFromEnv creates a logger with level from INTERVIEWRT_LOG_LEVEL.
func NewLoggerFromEnv() *Logger {
	return NewLogger(ParseLogLevel(os.Getenv(LogLevelEnv)))
}

// SetLevel updates the logger's minimum level. Safe for concurrent use.
func (l *Logger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

// Level returns the current minimum level.
func (l *Logger) Level() LogLevel { return LogLevel(l.level.Load()) }

func (l *Logger) Debug(event string, fields map[string]any) { l.log(LogLevelDebug, event, fields) }
func (l *Logger) Info(event string, fields map[string]any)  { l.log(LogLevelInfo, event, fields) }
func (l *Logger) Warn(event string, fields map[string]any)  { l.log(LogLevelWarn, event, fields) }
func (l *Logger) Error(event string, fields map[string]any) { l.log(LogLevelError, event, fields) }

func (l *Logger) log(level LogLevel, event string, fields map[string]any) {
	if l == nil || level == LogLevelOff || level < l.Level() {
		return
	}
	merged := fields
	if len(l.fields) > 0 {
		merged = make(map[string]any, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, merged[k]))
	}
	l.slog.LogAttrs(context.Background(), level.slogLevel(), event, attrs...)
}

// WithContext returns a logger that adds fields to every record. Fields
// passed per call override context fields with the same key.
func (l *Logger) WithContext(fields map[string]any) *Logger {
	child := &Logger{slog: l.slog, fields: make(map[string]any, len(l.fields)+len(fields))}
	child.level.Store(l.level.Load())
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

// LoggerFunc adapts the logger to the Config.Logger callback shape.
func (l *Logger) LoggerFunc() func(string, map[string]any) {
	return func(event string, fields map[string]any) {
		l.Info(event, fields)
	}
}
