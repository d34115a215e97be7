package queue

import (
	"context"
	"time"
)

// Storage persists jobs. Implementations must make Claim atomic: a job is
// handed to at most one worker until its lock expires.
type Storage interface {
	// Add stores job, replacing a waiting, delayed, completed or dead job with
	// the same ID. It returns ErrJobActive when that job is being processed.
	Add(ctx context.Context, job *Job) error

	// Claim locks the most urgent ready job of queue for workerID and
	// increments its attempts. Jobs whose lock expired are recovered first.
	// It returns ErrNoJob when nothing is ready.
	Claim(ctx context.Context, queue, workerID string, lock time.Duration, now time.Time) (*Job, error)

	// Complete moves an active job to the completed set.
	Complete(ctx context.Context, id string, now time.Time) error

	// Retry moves an active job back to delayed until runAt.
	Retry(ctx context.Context, id string, runAt time.Time, errMsg string, now time.Time) error

	// Snooze moves an active job back to delayed until runAt and gives back
	// the attempt Claim consumed.
	Snooze(ctx context.Context, id string, runAt time.Time, reason string, now time.Time) error

	// Bury moves an active job to the dead set.
	Bury(ctx context.Context, id string, errMsg string, now time.Time) error

	// Remove deletes a waiting or delayed job. It reports false when the job
	// does not exist and returns ErrJobActive when it is being processed.
	Remove(ctx context.Context, id string) (bool, error)

	// Requeue moves a dead job back to waiting with its attempts reset.
	Requeue(ctx context.Context, id string, now time.Time) error

	Get(ctx context.Context, id string) (*Job, error)
	Jobs(ctx context.Context, queue string, states ...State) ([]*Job, error)
	Stats(ctx context.Context, queue string) (Stats, error)
}
