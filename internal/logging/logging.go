// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package logging configures log/slog the way the teacher's own code calls
// it: terse camelCase event names followed by key-value pairs
// (slog.Info("sizeIfPossible", "path", r.id, "size", size, "ok", ok) in
// internal/spinner/concurrent.go, slog.Error("sqlFail", "dsn", dsn, "err",
// err) in prefetch.go). This package only adds what a multi-stage scan
// needs beyond a single CLI process logging to its own stderr: a level
// switch for --verbose and a scoped logger per running job.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Init installs the process-wide default slog handler. verbose selects
// Debug instead of Info as the minimum level; the handler is always
// text-formatted to stderr, matching a CLI tool's usual output rather than
// a long-running service's.
func Init(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// ForJob returns a logger carrying the field every log line for a single
// scan job repeats: the MD's ud_path. Callers pass the result down through
// a scan (internal/scheduler attaches it to each job's context with
// WithContext) rather than re-deriving the field at every call site.
func ForJob(udPath string) *slog.Logger {
	return slog.Default().With("ud_path", udPath)
}

type loggerKey struct{}

// WithContext attaches a job logger to ctx so deeply nested calls (a parser
// running under a worker, for instance) can recover it via FromContext
// without threading a *slog.Logger through every signature.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger attached by WithContext, or the process
// default if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
