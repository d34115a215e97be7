package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// worker runs up to concurrency jobs of one queue at a time.
type worker struct {
	id        string
	q         *Queue
	queue     string
	processor Processor
	sem       chan struct{}
	wakeCh    chan struct{}
}

func newWorker(q *Queue, queue string, concurrency int, p Processor) *worker {
	return &worker{
		id:        uuid.NewString(),
		q:         q,
		queue:     queue,
		processor: p,
		sem:       make(chan struct{}, concurrency),
		wakeCh:    make(chan struct{}, 1),
	}
}

func (w *worker) notify() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// run claims jobs while slots are free and sleeps until the next poll tick
// or wake-up when the queue is empty.
func (w *worker) run(ctx context.Context) {
	log := w.q.log.With(slog.String("queue", w.queue), slog.String("worker_id", w.id))
	ticker := time.NewTicker(w.q.cfg.PollInterval)
	defer ticker.Stop()

	// Wait for in-flight jobs by taking every slot.
	defer func() {
		for range cap(w.sem) {
			w.sem <- struct{}{}
		}
	}()

	for {
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, err := w.q.storage.Claim(ctx, w.queue, w.id, w.q.cfg.LockTimeout, w.q.now())
		if err != nil {
			<-w.sem
			if !errors.Is(err, ErrNoJob) && ctx.Err() == nil {
				log.ErrorContext(ctx, "failed to claim job", slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-w.wakeCh:
			}
			continue
		}

		go func() {
			defer func() { <-w.sem }()
			w.handle(ctx, log, job)
		}()
	}
}

// handle runs the processor and records the outcome. The processing context
// is detached from worker shutdown so in-flight jobs complete.
func (w *worker) handle(ctx context.Context, log *slog.Logger, job *Job) {
	log = log.With(slog.String("job_id", job.ID), slog.Int("attempt", job.Attempts))
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.q.cfg.LockTimeout)
	defer cancel()

	start := time.Now()
	err := w.process(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := w.q.storage.Complete(jobCtx, job.ID, w.q.now()); cerr != nil {
			log.ErrorContext(jobCtx, "failed to complete job", slog.String("error", cerr.Error()))
			return
		}
		log.DebugContext(jobCtx, "job completed", slog.Duration("duration", elapsed))
		return
	}

	var snooze *SnoozeError
	if errors.As(err, &snooze) {
		delay := max(snooze.Delay, w.q.cfg.PollInterval)
		if serr := w.q.storage.Snooze(jobCtx, job.ID, w.q.now().Add(delay), err.Error(), w.q.now()); serr != nil {
			log.ErrorContext(jobCtx, "failed to snooze job", slog.String("error", serr.Error()))
			return
		}
		log.InfoContext(jobCtx, "job snoozed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		if berr := w.q.storage.Bury(jobCtx, job.ID, err.Error(), w.q.now()); berr != nil {
			log.ErrorContext(jobCtx, "failed to bury job", slog.String("error", berr.Error()))
			return
		}
		log.WarnContext(jobCtx, "job moved to dead set",
			slog.String("error", err.Error()),
			slog.Duration("duration", elapsed),
		)
		w.dead(jobCtx, log, job, err)
		return
	}

	delay := w.q.backoff.NextInterval(job.Attempts)
	if rerr := w.q.storage.Retry(jobCtx, job.ID, w.q.now().Add(delay), err.Error(), w.q.now()); rerr != nil {
		log.ErrorContext(jobCtx, "failed to schedule retry", slog.String("error", rerr.Error()))
		return
	}
	log.InfoContext(jobCtx, "job scheduled for retry",
		slog.String("error", err.Error()),
		slog.Duration("retry_in", delay),
	)
}

// dead hands a buried job to the processor's DeadHandler, if any.
func (w *worker) dead(ctx context.Context, log *slog.Logger, job *Job, err error) {
	h, ok := w.processor.(DeadHandler)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "dead handler panic", slog.Any("panic", r))
		}
	}()
	h.OnDead(ctx, job, err)
}

func (w *worker) process(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.processor.Process(ctx, job)
}
