// Package slogger exposes a process-wide application logger through package
// level functions so callers need not thread a logger through every type.
package slogger

import (
	"context"
	"sync/atomic"

	"docpipeline/internal/application/common/logging"
)

// Fields is an alias for logging.Fields.
type Fields = logging.Fields

type holder struct {
	logger logging.ApplicationLogger
}

var global atomic.Pointer[holder] //nolint:gochecknoglobals // process-wide logger

func current() logging.ApplicationLogger {
	if h := global.Load(); h != nil {
		return h.logger
	}
	global.CompareAndSwap(nil, &holder{logger: logging.Default()})
	return global.Load().logger
}

// Configure replaces the global logger with one built from config.
func Configure(config logging.Config) error {
	logger, err := logging.NewApplicationLogger(config)
	if err != nil {
		return err
	}
	SetGlobalLogger(logger)
	return nil
}

// SetGlobalLogger installs logger as the global logger.
func SetGlobalLogger(logger logging.ApplicationLogger) {
	global.Store(&holder{logger: logger})
}

func Debug(ctx context.Context, msg string, fields Fields) { current().Debug(ctx, msg, fields) }

func Info(ctx context.Context, msg string, fields Fields) { current().Info(ctx, msg, fields) }

func Warn(ctx context.Context, msg string, fields Fields) { current().Warn(ctx, msg, fields) }

func Error(ctx context.Context, msg string, fields Fields) { current().Error(ctx, msg, fields) }

// ErrorWithError logs msg at error level with err attached.
func ErrorWithError(ctx context.Context, err error, msg string, fields Fields) {
	current().ErrorWithError(ctx, err, msg, fields)
}

// InfoNoCtx logs at info level for callers without a request context.
func InfoNoCtx(msg string, fields Fields) { current().Info(context.Background(), msg, fields) }

// WarnNoCtx logs at warn level for callers without a request context.
func WarnNoCtx(msg string, fields Fields) { current().Warn(context.Background(), msg, fields) }

// JobEvent logs a processing job lifecycle event.
func JobEvent(ctx context.Context, event logging.JobEvent) {
	current().LogJobEvent(ctx, event)
}
