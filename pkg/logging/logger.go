// Package logging provides the structured, trace-ID aware logger shared
// by every kernel component.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type used for context values carried by the logger.
type ContextKey string

const (
	// TraceIDKey is the context key holding the current trace ID.
	TraceIDKey ContextKey = "trace_id"
	// ModuleIDKey is the context key holding the current module_id.
	ModuleIDKey ContextKey = "module_id"
)

// Logger wraps logrus.Logger with kernel-specific context propagation.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the named component (e.g. "bootstrap",
// "scheduler", "kerneld").
func New(component, level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL/LOG_FORMAT, defaulting to
// info/text so a bare `go run` prints something readable.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "text"
	}
	return New(component, level, format)
}

// WithContext returns a log entry enriched with trace/module IDs found
// on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if moduleID, ok := ctx.Value(ModuleIDKey).(string); ok && moduleID != "" {
		entry = entry.WithField("module_id", moduleID)
	}
	return entry
}

// WithModule returns a log entry tagged with the given module_id.
func (l *Logger) WithModule(moduleID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, "module_id": moduleID})
}

// NewTraceID generates a fresh trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace ID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceIDFrom retrieves the trace ID carried by ctx, if any.
func TraceIDFrom(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithModuleID attaches a module_id to ctx.
func WithModuleID(ctx context.Context, moduleID string) context.Context {
	return context.WithValue(ctx, ModuleIDKey, moduleID)
}
