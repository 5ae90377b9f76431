// Package logging provides structured logging with request-scoped context.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

// Context keys for request-scoped logging fields.
const (
	TraceIDKey contextKey = "trace_id"
	UserIDKey  contextKey = "user_id"
	RoleKey    contextKey = "role"
)

// Logger wraps a logrus entry with service and context helpers.
type Logger struct {
	entry *logrus.Entry
}

// New creates a named logger at the given level ("debug", "info", ...).
// Output format is JSON when LOG_FORMAT=json, text otherwise.
func New(service, level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: l.WithField("service", service)}
}

// NewDefault creates a named logger with level taken from LOG_LEVEL.
func NewDefault(service string) *Logger {
	return New(service, os.Getenv("LOG_LEVEL"))
}

// WithContext attaches trace ID, user ID and role from the context, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	entry := l.entry
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	if role := GetRole(ctx); role != "" {
		entry = entry.WithField("role", role)
	}
	return &Logger{entry: entry}
}

// WithField returns a logger with one extra field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with several extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Debug logs at debug level.
func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }

// Info logs at info level.
func (l *Logger) Info(args ...any) { l.entry.Info(args...) }

// Warn logs at warn level.
func (l *Logger) Warn(args ...any) { l.entry.Warn(args...) }

// Error logs at error level.
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(args ...any) { l.entry.Fatal(args...) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) { l.entry.Infof(format, args...) }

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.entry.Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// LogRequest logs one completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}).Info("request completed")
}

// LogSecurityEvent logs a security-relevant event with a fixed marker field.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).WithField("security_event", event).Warn("security event")
}

// =============================================================================
// Context helpers
// =============================================================================

// NewTraceID generates a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context, or "".
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithUserID stores an authenticated user ID on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the authenticated user ID from the context, or "".
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetRole returns the authenticated role from the context, or "".
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}
