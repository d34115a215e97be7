package queue

import (
	"log/slog"
	"time"
)

// Option configures a Queue.
type Option func(*Queue)

// WithConfig replaces the tuning parameters.
func WithConfig(cfg Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithLogger sets the logger used by workers.
func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

// WithBackoff overrides the retry schedule.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		if b != nil {
			q.backoff = b
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) {
		if gen != nil {
			q.newID = gen
		}
	}
}

// enqueueOptions collects per-job settings.
type enqueueOptions struct {
	id          string
	name        string
	priority    int
	delay       time.Duration
	runAt       time.Time
	maxAttempts int
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithJobID sets a deterministic id. Enqueuing the same id again replaces the
// pending job instead of adding a second one.
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

// WithName labels the job for logs.
func WithName(name string) EnqueueOption {
	return func(o *enqueueOptions) { o.name = name }
}

// WithPriority sets the numeric priority. Lower runs first.
func WithPriority(p int) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = max(p, 0) }
}

// WithDelay makes the job ineligible until now+d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithRunAt makes the job ineligible until t.
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.runAt = t }
}

// WithMaxAttempts overrides the queue-wide attempt cap.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}
