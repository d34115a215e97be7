package ratelimiter

import "errors"

var (
	// ErrInvalidConfig indicates a non-positive quota or window.
	ErrInvalidConfig = errors.New("ratelimiter: invalid configuration")

	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("ratelimiter: store unavailable")
)
