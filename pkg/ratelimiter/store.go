package ratelimiter

import (
	"context"
	"time"
)

// Store keeps fixed-window counters. Increment must be atomic per key:
// concurrent callers sharing a key never observe the same count.
type Store interface {
	// Increment adds one to the counter for key, opening a new window of the
	// given length when none is active, and returns the new count and the
	// instant the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Reset drops the window for key.
	Reset(ctx context.Context, key string) error
}

// Purger is implemented by stores that need an explicit sweep of expired
// windows. Stores with native expiry (Redis) do not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}
