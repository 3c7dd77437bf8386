package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/rbacd/pkg/contextkeys"
)

// LogLevel is the minimum severity a Logger writes
type LogLevel slog.Level

const (
	DebugLevel = LogLevel(slog.LevelDebug)
	InfoLevel  = LogLevel(slog.LevelInfo)
	WarnLevel  = LogLevel(slog.LevelWarn)
	ErrorLevel = LogLevel(slog.LevelError)
)

func (l LogLevel) String() string {
	return slog.Level(l).String()
}

// ParseLogLevel parses debug, info, warn or error. Unknown values are info.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return InfoLevel
	}
	return LogLevel(lvl)
}

// Logger writes JSON lines. Fields accumulate through the With methods and
// the receiver is never modified.
type Logger struct {
	sl *slog.Logger
}

// NewLogger creates a logger writing to output, stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slog.Level(level)})
	return &Logger{sl: slog.New(handler)}
}

var fallback = NewLogger(InfoLevel, os.Stdout)

func (l *Logger) with(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds fields in key order so output is stable
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.with(args...)
}

// WithError adds err under "error". A nil err returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

// WithActor tags the account performing an access-controlled action
func (l *Logger) WithActor(id int64) *Logger {
	return l.with("actor_id", id)
}

// WithRoute tags a route as "METHOD /path/template"
func (l *Logger) WithRoute(method, path string) *Logger {
	return l.with("route", method+" "+path)
}

func (l *Logger) Debug(message string) { l.sl.Debug(message) }
func (l *Logger) Info(message string)  { l.sl.Info(message) }
func (l *Logger) Warn(message string)  { l.sl.Warn(message) }
func (l *Logger) Error(message string) { l.sl.Error(message) }

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sl.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sl.Warn(fmt.Sprintf(format, args...))
}

// WithRequestID stores the request id in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
}

// RequestID returns the request id stored in ctx, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextkeys.RequestIDKey).(string)
	return id
}

// WithUserID stores the authenticated account id in ctx
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextkeys.UserIDKey, userID)
}

// UserID returns the authenticated account id stored in ctx
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextkeys.UserIDKey).(int64)
	return id, ok
}

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextkeys.LoggerKey, logger)
}

// FromContext returns the logger stored in ctx tagged with the request and
// user ids, falling back to an info-level stdout logger
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger)
	if !ok || logger == nil {
		logger = fallback
	}
	if id := RequestID(ctx); id != "" {
		logger = logger.with("request_id", id)
	}
	if id, ok := UserID(ctx); ok {
		logger = logger.with("user_id", id)
	}
	return logger
}
