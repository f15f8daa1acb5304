// Package logging provides structured, context-aware logging for the savings layer.
//
// Loggers wrap logrus and pull request-scoped values (trace id, user address)
// out of the context so every line emitted while serving a request can be
// correlated.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// TraceIDKey carries the request trace id.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey carries the authenticated subject.
	UserIDKey contextKey = "user_id"
	// AddressKey carries the authenticated ledger address.
	AddressKey contextKey = "address"
)

// Logger is a service-scoped structured logger.
type Logger struct {
	base    *logrus.Logger
	service string
}

// Entry is a logger bound to a set of fields.
type Entry struct {
	*logrus.Entry
}

// New creates a logger for the given service. Format is "json" or "text".
func New(service, level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	if strings.EqualFold(format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	return &Logger{base: base, service: service}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{base: base, service: "test"}
}

// SetOutput redirects log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

func (l *Logger) entry() *logrus.Entry {
	return l.base.WithField("service", l.service)
}

// WithContext returns an entry carrying the request-scoped fields found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Entry {
	e := l.entry()
	if ctx == nil {
		return &Entry{e}
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		e = e.WithField("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		e = e.WithField("user_id", userID)
	}
	if addr := GetAddress(ctx); addr != "" {
		e = e.WithField("address", addr)
	}
	return &Entry{e}
}

// WithFields returns an entry carrying the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{l.entry().WithFields(logrus.Fields(fields))}
}

// WithError returns an entry carrying err.
func (l *Logger) WithError(err error) *Entry {
	return &Entry{l.entry().WithError(err)}
}

// WithFields adds fields to the entry.
func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{e.Entry.WithFields(logrus.Fields(fields))}
}

// WithError adds err to the entry.
func (e *Entry) WithError(err error) *Entry {
	return &Entry{e.Entry.WithError(err)}
}

// Info logs at info level with request context and fields.
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(msg)
}

// Warn logs at warn level with request context and fields.
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(msg)
}

// Debug logs at debug level with request context and fields.
func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Debug(msg)
}

// Error logs at error level with request context and fields.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("HTTP request")
	case status >= 400:
		entry.Warn("HTTP request")
	default:
		entry.Info("HTTP request")
	}
}

// =============================================================================
// Context helpers
// =============================================================================

// NewTraceID generates a new trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace id in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace id stored in ctx.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithUserID stores the authenticated subject in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the authenticated subject stored in ctx.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// WithAddress stores the authenticated ledger address in ctx.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, AddressKey, address)
}

// GetAddress returns the authenticated ledger address stored in ctx.
func GetAddress(ctx context.Context) string {
	v, _ := ctx.Value(AddressKey).(string)
	return v
}
