// Package shutdown provides a LIFO graceful-shutdown group, the way
// the rest of this module's components wind down in the reverse order
// they started in, under a deadline.
package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrTimeout = errors.New("shutdown: timed out waiting for components")

// Group collects shutdown functions and runs them in reverse
// registration order (LIFO) under a deadline. cmd/obsplaned registers
// the uprobe manager's WaitForQuiescence first, so waiting for
// in-flight deployments to drain is the last thing Shutdown runs.
type Group struct {
	mu      sync.Mutex
	fns     []func(context.Context) error
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Group with the given overall deadline. A nil logger
// falls back to slog.Default().
func New(timeout time.Duration, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{
		timeout: timeout,
		logger:  logger.With("component", "shutdown"),
	}
}

// Register adds a shutdown function. Functions run in reverse of
// registration order: the last-registered component shuts down first.
func (g *Group) Register(fn func(context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fns = append(g.fns, fn)
}

// Shutdown runs every registered function in LIFO order, stopping at
// the first error, within the group's overall timeout.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	fns := append([]func(context.Context) error(nil), g.fns...)
	g.mu.Unlock()

	g.logger.Info("starting graceful shutdown", "components", len(fns))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](shutdownCtx); err != nil {
				g.logger.Error("shutdown function failed", "index", i, "error", err)
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err == nil {
			g.logger.Info("graceful shutdown complete")
		}
		return err
	case <-shutdownCtx.Done():
		g.logger.Warn("graceful shutdown timed out")
		return ErrTimeout
	}
}
