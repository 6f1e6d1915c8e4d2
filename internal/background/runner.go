// Package background runs fire-and-forget work that must not delay the
// HTTP response, such as notification mails.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTaskTimeout bounds a single task.
const DefaultTaskTimeout = 30 * time.Second

// Runner tracks detached tasks so shutdown can wait for them.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go runs fn on its own goroutine with a fresh context. Errors and panics
// are logged and never reach the caller.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked", "task", name, "panic", fmt.Sprint(rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every task has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
