package queue

import "errors"

var (
	ErrStorageNil       = errors.New("queue: storage cannot be nil")
	ErrQueueName        = errors.New("queue: queue name is required")
	ErrPayloadMarshal   = errors.New("queue: failed to marshal payload")
	ErrJobCreate        = errors.New("queue: failed to store job")
	ErrNoJob            = errors.New("queue: no job ready")
	ErrJobNotFound      = errors.New("queue: job not found")
	ErrJobActive        = errors.New("queue: job is being processed")
	ErrJobNotDead       = errors.New("queue: job is not in the dead set")
	ErrProcessorNil     = errors.New("queue: processor cannot be nil")
	ErrWorkerRegistered = errors.New("queue: worker already registered for queue")
	ErrNoWorkers        = errors.New("queue: no workers registered")
	ErrAlreadyStarted   = errors.New("queue: already started")
	ErrNotStarted       = errors.New("queue: not started")
)
