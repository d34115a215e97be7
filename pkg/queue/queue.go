package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue enqueues jobs into a Storage and runs a bounded worker pool per
// registered queue name.
type Queue struct {
	storage Storage
	cfg     Config
	log     *slog.Logger
	backoff Backoff
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	workers map[string]*worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Queue over storage.
func New(storage Storage, opts ...Option) (*Queue, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	q := &Queue{
		storage: storage,
		cfg: Config{
			PollInterval:   time.Second,
			LockTimeout:    5 * time.Minute,
			MaxAttempts:    3,
			BackoffInitial: 2 * time.Second,
			BackoffMax:     5 * time.Minute,
		},
		log:     slog.Default(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		workers: make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.backoff == nil {
		q.backoff = q.cfg.Backoff()
	}
	if q.cfg.MaxAttempts <= 0 {
		q.cfg.MaxAttempts = 1
	}
	if q.cfg.PollInterval <= 0 {
		q.cfg.PollInterval = time.Second
	}
	if q.cfg.LockTimeout <= 0 {
		q.cfg.LockTimeout = 5 * time.Minute
	}
	return q, nil
}

// Enqueue stores payload as a job on queue. A payload that is already
// json.RawMessage or []byte is stored as is.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload any, opts ...EnqueueOption) (*JobHandle, error) {
	if queue == "" {
		return nil, ErrQueueName
	}
	o := enqueueOptions{priority: PriorityDefault, maxAttempts: q.cfg.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}

	now := q.now()
	runAt := now
	if !o.runAt.IsZero() {
		runAt = o.runAt
	}
	if o.delay > 0 {
		runAt = now.Add(o.delay)
	}
	state := StateWaiting
	if runAt.After(now) {
		state = StateDelayed
	}
	if o.id == "" {
		o.id = q.newID()
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = 1
	}

	job := &Job{
		ID:          o.id,
		Queue:       queue,
		Name:        o.name,
		Payload:     raw,
		Priority:    o.priority,
		MaxAttempts: o.maxAttempts,
		State:       state,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.storage.Add(ctx, job); err != nil {
		if errors.Is(err, ErrJobActive) {
			return nil, err
		}
		return nil, errors.Join(ErrJobCreate, err)
	}

	if state == StateWaiting {
		q.wake(queue)
	}
	return &JobHandle{ID: job.ID, Queue: queue, Priority: job.Priority, RunAt: runAt}, nil
}

// RegisterWorker attaches processor to queue with the given concurrency.
// It must be called before Start.
func (q *Queue) RegisterWorker(queue string, concurrency int, p Processor) error {
	if queue == "" {
		return ErrQueueName
	}
	if p == nil {
		return ErrProcessorNil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return ErrAlreadyStarted
	}
	if _, ok := q.workers[queue]; ok {
		return ErrWorkerRegistered
	}
	q.workers[queue] = newWorker(q, queue, max(concurrency, 1), p)
	return nil
}

// Start launches the worker pools. Workers stop when ctx is cancelled or
// Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return ErrAlreadyStarted
	}
	if len(q.workers) == 0 {
		return ErrNoWorkers
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for _, w := range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			w.run(ctx)
		}()
	}

	q.log.InfoContext(ctx, "queue workers started", slog.Int("queues", len(q.workers)))
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return ErrNotStarted
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.log.Info("queue workers stopped")
	return nil
}

// Run returns a function suitable for errgroup.Go: it starts the workers,
// blocks until ctx is done and then stops them.
func (q *Queue) Run(ctx context.Context) func() error {
	return func() error {
		if err := q.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		if err := q.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
			return err
		}
		return nil
	}
}

// Remove deletes a waiting or delayed job. A job already claimed by a worker
// cannot be removed and yields ErrJobActive.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	return q.storage.Remove(ctx, id)
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.storage.Get(ctx, id)
}

// Jobs lists the jobs of queue in the given states (all states when none).
func (q *Queue) Jobs(ctx context.Context, queue string, states ...State) ([]*Job, error) {
	return q.storage.Jobs(ctx, queue, states...)
}

// Stats counts jobs of queue per state.
func (q *Queue) Stats(ctx context.Context, queue string) (Stats, error) {
	return q.storage.Stats(ctx, queue)
}

// DeadJobs lists the jobs that exhausted their attempts.
func (q *Queue) DeadJobs(ctx context.Context, queue string) ([]*Job, error) {
	return q.storage.Jobs(ctx, queue, StateDead)
}

// Requeue moves a dead job back to waiting with a fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	j, err := q.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := q.storage.Requeue(ctx, id, q.now()); err != nil {
		return err
	}
	q.wake(j.Queue)
	return nil
}

// Queues returns the names with a registered worker.
func (q *Queue) Queues() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.workers))
	for name := range q.workers {
		names = append(names, name)
	}
	return names
}

func (q *Queue) wake(queue string) {
	q.mu.Lock()
	w, ok := q.workers[queue]
	q.mu.Unlock()
	if ok {
		w.notify()
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
