// Package logging provides structured, context-aware logging on top of log/slog.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ApplicationLogger is the structured logger used throughout the pipeline.
type ApplicationLogger interface {
	Debug(ctx context.Context, message string, fields Fields)
	Info(ctx context.Context, message string, fields Fields)
	Warn(ctx context.Context, message string, fields Fields)
	Error(ctx context.Context, message string, fields Fields)
	ErrorWithError(ctx context.Context, err error, message string, fields Fields)
	LogJobEvent(ctx context.Context, event JobEvent)
	WithComponent(component string) ApplicationLogger
}

// Fields are the structured attributes attached to one log record.
type Fields map[string]any

// Config selects level, encoding and destination of a logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr, buffer
}

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	TenantIDKey      contextKey = "tenant_id"
	JobIDKey         contextKey = "job_id"
)

const defaultComponent = "default"

type slogLogger struct {
	root   *slog.Logger
	logger *slog.Logger
	buffer *lockedBuffer
}

func newSlogLogger(handler slog.Handler, buffer *lockedBuffer) *slogLogger {
	root := slog.New(contextHandler{next: handler})
	return &slogLogger{
		root:   root,
		logger: root.With(slog.String("component", defaultComponent)),
		buffer: buffer,
	}
}

// NewApplicationLogger builds a logger from config.
func NewApplicationLogger(config Config) (ApplicationLogger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", config.Level)
	}

	var (
		out    io.Writer
		buffer *lockedBuffer
	)
	switch config.Output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "buffer":
		buffer = &lockedBuffer{}
		out = buffer
	default:
		return nil, fmt.Errorf("invalid log output: %s", config.Output)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	return newSlogLogger(handler, buffer), nil
}

// Default returns an info level JSON logger writing to stdout.
func Default() ApplicationLogger {
	return newSlogLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}), nil)
}

func (l *slogLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelDebug, message, nil, fields)
}

func (l *slogLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelInfo, message, nil, fields)
}

func (l *slogLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelWarn, message, nil, fields)
}

func (l *slogLogger) Error(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelError, message, nil, fields)
}

func (l *slogLogger) ErrorWithError(ctx context.Context, err error, message string, fields Fields) {
	l.log(ctx, slog.LevelError, message, err, fields)
}

// WithComponent returns a logger whose records carry the given component.
func (l *slogLogger) WithComponent(component string) ApplicationLogger {
	return &slogLogger{
		root:   l.root,
		logger: l.root.With(slog.String("component", component)),
		buffer: l.buffer,
	}
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, message string, err error, fields Fields) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// contextHandler adds correlation, tenant and job identifiers from the context.
type contextHandler struct {
	next slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	id := CorrelationIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	record.AddAttrs(slog.String("correlation_id", id))

	present := make(map[string]bool, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		present[a.Key] = true
		return true
	})
	for _, key := range []contextKey{TenantIDKey, JobIDKey} {
		if v := stringFromContext(ctx, key); v != "" && !present[string(key)] {
			record.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{next: h.next.WithGroup(name)}
}

// WithCorrelationID returns a context carrying the correlation ID used in log records.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithJobContext tags a context with the tenant and job being processed.
func WithJobContext(ctx context.Context, tenantID, jobID string) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, JobIDKey, jobID)
}

// CorrelationIDFromContext returns the correlation ID, or "" when none is set.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, CorrelationIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lines []string
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// bufferedLines returns the records written by a logger built with Output "buffer".
func bufferedLines(logger ApplicationLogger) []string {
	l, ok := logger.(*slogLogger)
	if !ok || l.buffer == nil {
		return nil
	}
	return l.buffer.lines()
}
