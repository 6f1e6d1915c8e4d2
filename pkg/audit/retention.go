package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultRetention     = 90 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Retention hard-deletes events older than MaxAge on a ticker.
type Retention struct {
	Store    Store
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger
	now      func() time.Time
}

// Sweep deletes expired events once.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	maxAge := r.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	return r.Store.DeleteBefore(ctx, now().UTC().Add(-maxAge))
}

// Run sweeps immediately and then every Interval until ctx is done.
func (r *Retention) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := r.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("audit retention sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("audit retention sweep", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
