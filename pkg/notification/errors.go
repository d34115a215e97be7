package notification

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Failure taxonomy shared by every notification component.
var (
	ErrValidation          = errors.New("notification: validation failed")
	ErrRateLimited         = errors.New("notification: rate limit exceeded")
	ErrTemplate            = errors.New("notification: template error")
	ErrAdapterTransient    = errors.New("notification: transient adapter failure")
	ErrAdapterTerminal     = errors.New("notification: terminal adapter failure")
	ErrPersistence         = errors.New("notification: persistence failure")
	ErrSignature           = errors.New("notification: invalid webhook signature")
	ErrUnknownNotification = errors.New("notification: unknown external id")
	ErrQueue               = errors.New("notification: enqueue failed")
)

// Repository errors.
var (
	ErrNotFound            = errors.New("notification: not found")
	ErrDuplicateID         = errors.New("notification: id already exists")
	ErrDuplicateExternalID = errors.New("notification: external id already assigned")
	ErrInvalidTransition   = errors.New("notification: invalid status transition")
	ErrAttemptsExhausted   = errors.New("notification: max attempts reached")
	ErrInvalidChannel      = errors.New("notification: unknown channel")
	ErrInvalidPriority     = errors.New("notification: unknown priority")
)

// TransitionError reports an event that is not allowed from the current status.
type TransitionError struct {
	ID    string
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("notification %s: event %q not allowed from %s", e.ID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// RateLimitError carries the wait time before the caller may retry.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %ds", e.Key, e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds the wait up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// IsInvalidTransition reports whether err was caused by a disallowed lifecycle event.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
