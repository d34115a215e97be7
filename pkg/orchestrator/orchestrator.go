package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/content"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/metrics"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

// JobQueue is the part of queue.Queue the orchestrator drives.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...queue.EnqueueOption) (*queue.JobHandle, error)
	Remove(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	Stats(ctx context.Context, name string) (queue.Stats, error)
	Queues() []string
}

// Result is the outcome of a send request. Enqueued and Persisted report
// the two phases separately: a send succeeds once the job is durable, even
// when the repository insert failed.
type Result struct {
	ID                string        `json:"id"`
	Success           bool          `json:"success"`
	Error             string        `json:"error,omitempty"`
	Err               error         `json:"-"`
	Latency           time.Duration `json:"latency"`
	RetryCount        int           `json:"retryCount"`
	RetryAfterSeconds int           `json:"retryAfterSeconds,omitempty"`
	Enqueued          bool          `json:"enqueued"`
	Persisted         bool          `json:"persisted"`
	JobID             string        `json:"jobId,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
}

// Orchestrator sequences templating, validation, rate limiting, enqueue
// and persistence for outbound notifications.
type Orchestrator struct {
	repo  notification.Repository
	queue JobQueue
	db    *breaker.Breaker
	options
}

// New creates an Orchestrator over repo and q.
func New(repo notification.Repository, q JobQueue, opts ...Option) (*Orchestrator, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if q == nil {
		return nil, ErrQueueNil
	}
	o := &Orchestrator{repo: repo, queue: q, options: applyOptions(opts)}
	o.db = dbBreaker(o.breakers)
	return o, nil
}

// Send accepts msg for delivery. Every step before the enqueue is a hard
// gate: on failure the Result is unsuccessful and nothing was enqueued or
// stored. After the enqueue only best-effort side effects remain.
func (o *Orchestrator) Send(ctx context.Context, msg notification.Message) *Result {
	start := o.now()
	if msg.ID == "" {
		msg.ID = o.newID()
	}
	res := &Result{ID: msg.ID}
	log := o.log.With(logger.NotificationID(msg.ID), logger.Channel(msg.Channel.String()))

	reject := func(reason string, err error) *Result {
		o.metrics.RecordRejected(msg.Channel.String(), reason)
		log.LogAttrs(ctx, slog.LevelInfo, "notification rejected",
			slog.String("reason", reason),
			logger.Error(err),
		)
		res.Err = err
		res.Error = err.Error()
		res.Latency = o.now().Sub(start)
		return res
	}

	if !msg.Channel.Valid() {
		return reject(metrics.ReasonValidation, fmt.Errorf("%w: %w: %q", notification.ErrValidation, notification.ErrInvalidChannel, msg.Channel))
	}
	if msg.Priority != "" && !msg.Priority.Valid() {
		return reject(metrics.ReasonValidation, fmt.Errorf("%w: %w: %q", notification.ErrValidation, notification.ErrInvalidPriority, msg.Priority))
	}

	if msg.TemplateID != "" {
		if err := o.applyTemplate(ctx, &msg); err != nil {
			return reject(metrics.ReasonTemplate, err)
		}
	}

	checked, err := o.validator.Validate(content.Input{
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Content,
	})
	if err != nil {
		return reject(metrics.ReasonValidation, err)
	}
	msg.Recipient, msg.Subject, msg.Content = checked.Recipient, checked.Subject, checked.Body
	res.Warnings = checked.Warnings
	if len(checked.Warnings) > 0 {
		log.LogAttrs(ctx, slog.LevelWarn, "notification content warnings",
			slog.Any("warnings", checked.Warnings),
		)
	}

	if rerr := o.checkLimit(ctx, msg); rerr != nil {
		res.RetryAfterSeconds = rerr.RetryAfterSeconds()
		return reject(metrics.ReasonRateLimit, rerr)
	}

	now := o.now()
	n := notification.New(msg, now)
	handle, err := o.enqueue(ctx, n, now)
	if err != nil {
		return reject(metrics.ReasonQueue, err)
	}
	res.Enqueued = true
	res.JobID = handle.ID

	res.Persisted = o.persist(ctx, n)
	o.metrics.RecordCreated(n.Channel.String())
	o.metrics.RecordStatus(n.Channel.String(), string(n.Status))
	_ = o.emitter.Emit(ctx, events.New(events.NotificationCreated, n, map[string]any{
		"jobId":     handle.ID,
		"persisted": res.Persisted,
	}))

	res.Success = true
	res.Latency = o.now().Sub(start)
	log.LogAttrs(ctx, slog.LevelDebug, "notification accepted",
		logger.JobID(handle.ID),
		logger.Status(string(n.Status)),
		slog.Bool("persisted", res.Persisted),
		logger.Duration(res.Latency),
	)
	return res
}

func (o *Orchestrator) applyTemplate(ctx context.Context, msg *notification.Message) error {
	if o.templates == nil {
		return fmt.Errorf("%w: %w", notification.ErrTemplate, ErrNoTemplates)
	}
	vars := make(map[string]any, len(msg.TemplateData)+2)
	if msg.Subject != "" {
		vars["subject"] = msg.Subject
	}
	if msg.Content != "" {
		vars["message"] = msg.Content
	}
	for k, v := range msg.TemplateData {
		vars[k] = v
	}

	out, err := o.templates.Render(ctx, msg.TemplateID, vars, msg.Locale)
	if err != nil {
		if !errors.Is(err, notification.ErrTemplate) {
			err = fmt.Errorf("%w: %w", notification.ErrTemplate, err)
		}
		return err
	}

	if out.Subject != "" {
		msg.Subject = out.Subject
	}
	msg.Content = out.Body
	meta := make(map[string]any, len(msg.Metadata)+3)
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	meta[MetaFormat] = string(out.Format)
	if out.TextBody != "" {
		meta[MetaTextBody] = out.TextBody
	}
	if out.Locale != "" {
		meta[MetaTemplate] = out.Locale
	}
	if out.Fallback {
		meta["template_fallback"] = true
	}
	msg.Metadata = meta
	return nil
}

// checkLimit fails open when the counter store is unreachable: the queue
// is the durability guarantee and a broken limiter must not stop delivery.
func (o *Orchestrator) checkLimit(ctx context.Context, msg notification.Message) *notification.RateLimitError {
	if o.limiter == nil {
		return nil
	}
	actor := msg.ActorID
	if actor == "" {
		actor = msg.Recipient
	}
	r, err := o.limiter.Check(ctx, msg.Channel.String(), actor)
	if err != nil {
		o.log.LogAttrs(ctx, slog.LevelWarn, "rate limiter unavailable, allowing send",
			logger.Channel(msg.Channel.String()),
			logger.Error(err),
		)
		return nil
	}
	if r.Allowed {
		return nil
	}
	return &notification.RateLimitError{Key: r.Key, RetryAfter: r.RetryAfter}
}

func (o *Orchestrator) enqueue(ctx context.Context, n *notification.Notification, now time.Time) (*queue.JobHandle, error) {
	prio := n.Priority.QueuePriority()
	delay := n.Delay(now)
	p := Payload{Notification: n, QueuePriority: prio, DelayMs: delay.Milliseconds()}

	opts := []queue.EnqueueOption{
		queue.WithJobID(n.ID),
		queue.WithName(JobName),
		queue.WithPriority(prio),
		queue.WithMaxAttempts(n.MaxAttempts),
	}
	if delay > 0 {
		opts = append(opts, queue.WithRunAt(*n.ScheduledAt))
	}
	h, err := o.queue.Enqueue(ctx, n.Channel.Queue(), p, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notification.ErrQueue, err)
	}
	return h, nil
}

// persist stores n through the db breaker. Failures are logged and
// swallowed; the dispatcher rebuilds the row from the job payload.
func (o *Orchestrator) persist(ctx context.Context, n *notification.Notification) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()

	err := o.db.Execute(ctx, func(ctx context.Context) error {
		return o.repo.Create(ctx, n.Clone())
	})
	if err == nil || errors.Is(err, notification.ErrDuplicateID) {
		return true
	}
	o.metrics.RecordPersistenceError("create")
	o.log.LogAttrs(ctx, slog.LevelWarn, "failed to persist notification, job is queued",
		logger.NotificationID(n.ID),
		logger.Error(err),
	)
	return false
}

// BulkOptions controls SendBulk batching. Zero values use the Config.
type BulkOptions struct {
	BatchSize int
	Delay     time.Duration
}

// SendBulk sends msgs in batches. Messages of a batch are sent
// concurrently and fail independently; the call sleeps Delay between
// batches. Results are in input order. When ctx ends, the remaining
// messages get a failed Result carrying the context error.
func (o *Orchestrator) SendBulk(ctx context.Context, msgs []notification.Message, bo BulkOptions) ([]*Result, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyBatch
	}
	size := bo.BatchSize
	if size <= 0 {
		size = max(o.cfg.BulkBatchSize, 1)
	}
	delay := bo.Delay
	if delay <= 0 {
		delay = o.cfg.BulkDelay
	}

	results := make([]*Result, len(msgs))
	for start := 0; start < len(msgs); start += size {
		if start > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			for i := start; i < len(msgs); i++ {
				results[i] = &Result{ID: msgs[i].ID, Err: err, Error: err.Error()}
			}
			return results, err
		}

		var g errgroup.Group
		for i := start; i < min(start+size, len(msgs)); i++ {
			g.Go(func() error {
				results[i] = o.Send(ctx, msgs[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return results, nil
}

// Cancel removes the pending job of id and marks the notification
// CANCELLED. A job already claimed by a worker cannot be cancelled. The
// returned notification is nil when the row was never stored.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*notification.Notification, error) {
	removed, err := o.queue.Remove(ctx, id)
	switch {
	case errors.Is(err, queue.ErrJobActive):
		return nil, ErrInFlight
	case err != nil:
		return nil, fmt.Errorf("%w: %w", notification.ErrQueue, err)
	}

	n, err := breaker.Call(ctx, o.db, func(ctx context.Context) (*notification.Notification, error) {
		return o.repo.MarkAsCancelled(ctx, id, reason)
	})
	switch {
	case err == nil:
	case errors.Is(err, notification.ErrNotFound) && removed:
		// The insert never happened; removing the job was the whole cancel.
		o.log.LogAttrs(ctx, slog.LevelInfo, "cancelled unpersisted notification", logger.NotificationID(id))
		return nil, nil
	case notification.IsInvalidTransition(err):
		if cur, gerr := o.repo.Get(ctx, id); gerr == nil && cur.Status == notification.StatusSending {
			return nil, ErrInFlight
		}
		return nil, fmt.Errorf("%w: %w", ErrNotCancellable, err)
	default:
		return nil, err
	}

	o.metrics.RecordStatus(n.Channel.String(), string(n.Status))
	_ = o.emitter.Emit(ctx, events.New(events.NotificationCancelled, n, map[string]any{"reason": reason}))
	o.log.LogAttrs(ctx, slog.LevelInfo, "notification cancelled",
		logger.NotificationID(id),
		slog.Bool("job_removed", removed),
	)
	return n, nil
}

// Retry resets a FAILED notification to PENDING with a fresh attempt
// budget and enqueues it again.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Result, error) {
	start := o.now()
	n, err := breaker.Call(ctx, o.db, func(ctx context.Context) (*notification.Notification, error) {
		return o.repo.Requeue(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	h, err := o.enqueue(ctx, n, o.now())
	if err != nil {
		// Put the row back to FAILED so it stays retryable.
		_, rerr := breaker.Call(ctx, o.db, func(ctx context.Context) (*notification.Notification, error) {
			return o.repo.Transition(ctx, id, notification.Change{
				Event:  notification.EventAbandon,
				At:     o.now(),
				Reason: "retry could not be enqueued: " + err.Error(),
			})
		})
		o.log.LogAttrs(ctx, slog.LevelError, "requeued notification could not be enqueued",
			logger.NotificationID(id),
			logger.Error(err),
			slog.Bool("rolled_back", rerr == nil),
		)
		return nil, err
	}
	o.metrics.RecordStatus(n.Channel.String(), string(n.Status))
	return &Result{
		ID:        n.ID,
		Success:   true,
		Enqueued:  true,
		Persisted: true,
		JobID:     h.ID,
		Latency:   o.now().Sub(start),
	}, nil
}

// Health is a point-in-time view of breakers and queues.
type Health struct {
	Healthy  bool                   `json:"healthy"`
	Breakers []breaker.Stats        `json:"breakers"`
	Queues   map[string]queue.Stats `json:"queues"`
	Errors   []string               `json:"errors,omitempty"`
}

// Health reports breaker and queue state. It is unhealthy while any
// breaker is open or a queue cannot be read.
func (o *Orchestrator) Health(ctx context.Context) Health {
	h := Health{
		Healthy:  true,
		Breakers: o.breakers.Stats(),
		Queues:   make(map[string]queue.Stats),
	}
	for _, b := range h.Breakers {
		if b.State == breaker.StateOpen.String() {
			h.Healthy = false
		}
	}
	for _, name := range o.queue.Queues() {
		st, err := o.queue.Stats(ctx, name)
		if err != nil {
			h.Healthy = false
			h.Errors = append(h.Errors, fmt.Sprintf("queue %s: %v", name, err))
			continue
		}
		h.Queues[name] = st
		o.metrics.SetQueueStats(st)
	}
	return h
}
