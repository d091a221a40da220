package viewport

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/viewport/atlas"
	"github.com/gogpu/viewport/pool"
	"github.com/gogpu/viewport/worker"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for viewport and all its sub-packages
// (atlas, pool, worker). By default nothing is logged.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by viewport:
//   - [slog.LevelDebug]: per-frame diagnostics (drained notifications,
//     replaced textures, pacing decisions, frame timings)
//   - [slog.LevelInfo]: lifecycle events (viewport created/closed, producer pinned)
//   - [slog.LevelWarn]: non-fatal issues (texture factory errors, pinning unsupported)
//
// Example:
//
//	viewport.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	atlas.SetLogger(l)
	pool.SetLogger(l)
	worker.SetLogger(l)
}

// Logger returns the current logger used by viewport.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
