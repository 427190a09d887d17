// Package tasks runs named background work with failure isolation. Pre-warm,
// result reporting, and training export run here instead of as anonymous
// goroutines, so a panic in one is contained and logged and shutdown can
// wait for all of them.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrShuttingDown is returned by Go after Shutdown has begun.
var ErrShuttingDown = errors.New("tasks: supervisor shutting down")

// Supervisor owns a set of named background tasks.
type Supervisor struct {
	logger *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	closing bool
}

// NewSupervisor creates a supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger}
}

// Go runs fn in its own goroutine. A panic is recovered and logged; an error
// return is logged. Neither propagates to other tasks or the caller.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(context.Context) error) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting new tasks and waits for running ones, bounded by
// ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
