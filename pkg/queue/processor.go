package queue

import (
	"context"
	"fmt"
	"time"
)

// Processor handles jobs of one queue. A returned error schedules a retry
// until the attempt cap is reached, after which the job is buried. Delivery
// is at least once, so processors must tolerate duplicates.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *Job) error { return f(ctx, job) }

// Typed decodes the payload into T before calling fn.
func Typed[T any](fn func(ctx context.Context, job *Job, payload T) error) Processor {
	return ProcessorFunc(func(ctx context.Context, job *Job) error {
		var payload T
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", job.Queue, err)
		}
		return fn(ctx, job, payload)
	})
}

// DeadHandler is implemented by processors that need to react once a job is
// moved to the dead set, for example to settle the record the job was
// working on.
type DeadHandler interface {
	OnDead(ctx context.Context, job *Job, err error)
}

// SnoozeError asks the worker to put the job back for Delay without counting
// the attempt. Use it when the job could not start for reasons unrelated to
// the job itself, such as an open circuit.
type SnoozeError struct {
	Delay time.Duration
	Err   error
}

func (e *SnoozeError) Error() string {
	return fmt.Sprintf("snoozed for %s: %v", e.Delay, e.Err)
}

func (e *SnoozeError) Unwrap() error { return e.Err }

// Snooze wraps err so the job is retried after delay with its attempt given
// back.
func Snooze(delay time.Duration, err error) error {
	return &SnoozeError{Delay: delay, Err: err}
}
