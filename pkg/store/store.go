// Package store holds the short-lived counters behind abuse tracking and
// token revocation. Entries expire on their own; nothing here is durable.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures so callers can fail closed.
var ErrUnavailable = errors.New("counter store unavailable")

// Counter is a keyed, expiring integer.
type Counter interface {
	// Increment adds one to key and returns the new value. The TTL is set
	// when the key is created and is not extended by later increments.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value, or zero when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	Clear(ctx context.Context, key string) error
}
