package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/metrics"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/provider"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/template"
)

// AdapterSource resolves the adapter of a channel.
type AdapterSource interface {
	Get(ch notification.Channel) (provider.Adapter, error)
}

// Dispatcher is the queue processor of the channel queues. It drives a
// notification from PENDING to SENT or FAILED through the channel adapter
// and its circuit breaker.
type Dispatcher struct {
	repo      notification.Repository
	adapters  AdapterSource
	db        *breaker.Breaker
	throttles map[notification.Channel]*rate.Limiter
	options
}

var (
	_ queue.Processor   = (*Dispatcher)(nil)
	_ queue.DeadHandler = (*Dispatcher)(nil)
)

// minSnooze bounds how soon a job held back by a busy circuit is retried.
const minSnooze = time.Second

// NewDispatcher creates a Dispatcher. Breakers are taken from the shared
// registry, one per channel plus DBBreaker.
func NewDispatcher(repo notification.Repository, adapters AdapterSource, opts ...Option) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if adapters == nil {
		return nil, ErrAdaptersNil
	}
	d := &Dispatcher{repo: repo, adapters: adapters, options: applyOptions(opts)}
	d.db = dbBreaker(d.breakers)
	d.throttles = map[notification.Channel]*rate.Limiter{
		notification.ChannelEmail:    newThrottle(d.cfg.EmailRPS),
		notification.ChannelSMS:      newThrottle(d.cfg.SMSRPS),
		notification.ChannelWhatsApp: newThrottle(d.cfg.WhatsAppRPS),
	}
	return d, nil
}

func newThrottle(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
}

// adapterBreaker returns the breaker of a channel. Terminal errors such as
// a rejected recipient say nothing about provider health.
func (d *Dispatcher) adapterBreaker(ch notification.Channel) *breaker.Breaker {
	return d.breakers.Get(ch.String(), breaker.WithFailurePredicate(func(err error) bool {
		return err != nil && !provider.IsTerminal(err)
	}))
}

// Process handles one job. It returns an error only when the notification
// was left RETRYING or could not be loaded, so the queue retries exactly
// those cases. While the channel circuit is open the job is snoozed
// without spending an attempt of either the job or the notification.
func (d *Dispatcher) Process(ctx context.Context, job *queue.Job) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrInvalidPayload, job.ID, err)
	}
	if p.Notification == nil || p.Notification.ID == "" || !p.Notification.Channel.Valid() {
		return fmt.Errorf("%w: job %s has no notification", ErrInvalidPayload, job.ID)
	}

	log := d.log.With(
		logger.NotificationID(p.Notification.ID),
		logger.Channel(p.Notification.Channel.String()),
		logger.JobID(job.ID),
	)

	n, err := d.load(ctx, p.Notification, log)
	if breaker.IsShortCircuit(err) {
		return queue.Snooze(max(d.db.RetryIn(), minSnooze), err)
	}
	if err != nil {
		return err
	}

	if n.Status == notification.StatusSending {
		// A previous worker lost its lock mid-send.
		n, err = d.markFailed(ctx, n, "send interrupted", false, log)
		if err != nil {
			return err
		}
	}

	switch n.Status {
	case notification.StatusScheduled, notification.StatusPending, notification.StatusRetrying:
	default:
		log.LogAttrs(ctx, slog.LevelDebug, "notification needs no delivery", logger.Status(string(n.Status)))
		return nil
	}

	if n.IsExpired(d.now()) {
		return d.expire(ctx, n, log)
	}

	if n.Status == notification.StatusScheduled {
		if n, err = d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
			return d.repo.MarkAsPending(ctx, n.ID)
		}); err != nil {
			return err
		}
	}

	cb := d.adapterBreaker(n.Channel)
	if wait := cb.RetryIn(); wait > 0 {
		log.LogAttrs(ctx, slog.LevelDebug, "channel circuit open, snoozing", slog.Duration("retry_in", wait))
		return queue.Snooze(wait, fmt.Errorf("%s circuit: %w", n.Channel, breaker.ErrOpen))
	}

	if t := d.throttles[n.Channel]; t != nil {
		if err := t.Wait(ctx); err != nil {
			return fmt.Errorf("throttle %s: %w", n.Channel, err)
		}
	}

	sending, err := d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
		return d.repo.MarkAsSending(ctx, n.ID)
	})
	if errors.Is(err, notification.ErrAttemptsExhausted) {
		_, err = d.abandon(ctx, n, "no attempts left", log)
		return err
	}
	if err != nil {
		return err
	}
	n = sending

	adapter, err := d.adapters.Get(n.Channel)
	if err != nil {
		_, ferr := d.markFailed(ctx, n, err.Error(), true, log)
		return ferr
	}

	return d.send(ctx, n, adapter, cb, log.With(logger.Attempt(n.Attempts), slog.String("provider", adapter.Name())))
}

func (d *Dispatcher) send(ctx context.Context, n *notification.Notification, a provider.Adapter, cb *breaker.Breaker, log *slog.Logger) error {
	res := breaker.Do(ctx, cb, func(ctx context.Context) (notification.Receipt, error) {
		return a.Send(ctx, envelope(n))
	})

	if res.Err == nil {
		d.metrics.RecordSend(n.Channel.String(), a.Name(), metrics.ResultSent, res.Duration)
		sent, err := d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
			return d.repo.MarkAsSent(ctx, n.ID, res.Value)
		})
		if err != nil {
			// The provider accepted the message; retrying would send it twice.
			d.metrics.RecordPersistenceError("mark_sent")
			log.LogAttrs(ctx, slog.LevelError, "sent notification could not be recorded",
				logger.ExternalID(res.Value.ExternalID),
				logger.Error(err),
			)
			return nil
		}
		if sent.Cost != nil {
			d.metrics.RecordCost(n.Channel.String(), *sent.Cost)
		}
		d.metrics.RecordStatus(n.Channel.String(), string(sent.Status))
		_ = d.emitter.Emit(ctx, events.New(events.NotificationSent, sent, map[string]any{
			"externalId": sent.ExternalID,
			"provider":   a.Name(),
			"attempts":   sent.Attempts,
		}))
		log.LogAttrs(ctx, slog.LevelInfo, "notification sent",
			logger.ExternalID(sent.ExternalID),
			logger.Duration(res.Duration),
		)
		return nil
	}

	if res.ShortCircuited {
		// The circuit opened, or a half-open trial is running, after the
		// pre-check. Nothing reached the provider.
		d.metrics.RecordSend(n.Channel.String(), a.Name(), metrics.ResultShortCircuit, res.Duration)
		if _, err := d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
			return d.repo.Transition(ctx, n.ID, notification.Change{Event: notification.EventRelease, At: d.now()})
		}); err != nil {
			return err
		}
		return queue.Snooze(max(cb.RetryIn(), minSnooze), res.Err)
	}

	terminal := provider.IsTerminal(res.Err)
	result := metrics.ResultTransient
	if terminal {
		result = metrics.ResultTerminal
	}
	d.metrics.RecordSend(n.Channel.String(), a.Name(), result, res.Duration)

	failed, err := d.markFailed(ctx, n, res.Err.Error(), terminal, log)
	if err != nil {
		return err
	}
	if failed.Status == notification.StatusRetrying {
		return fmt.Errorf("%s send failed: %w", n.Channel, res.Err)
	}
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, n *notification.Notification, reason string, terminal bool, log *slog.Logger) (*notification.Notification, error) {
	failed, err := d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
		return d.repo.MarkAsFailed(ctx, n.ID, reason, terminal)
	})
	if err != nil {
		return nil, err
	}
	d.metrics.RecordStatus(failed.Channel.String(), string(failed.Status))

	if failed.Status == notification.StatusFailed {
		_ = d.emitter.Emit(ctx, events.New(events.NotificationFailed, failed, map[string]any{
			"error":    reason,
			"terminal": terminal,
			"attempts": failed.Attempts,
		}))
		log.LogAttrs(ctx, slog.LevelWarn, "notification failed",
			slog.String("reason", reason),
			slog.Bool("terminal", terminal),
		)
	} else {
		log.LogAttrs(ctx, slog.LevelInfo, "notification send failed, will retry", slog.String("reason", reason))
	}
	return failed, nil
}

// OnDead settles the notification of a buried job. The job ran out of
// attempts without the row reaching a final status, typically because the
// store failed before the send was recorded.
func (d *Dispatcher) OnDead(ctx context.Context, job *queue.Job, cause error) {
	var p Payload
	if err := job.Decode(&p); err != nil || p.Notification == nil {
		return
	}
	log := d.log.With(logger.NotificationID(p.Notification.ID), logger.JobID(job.ID))

	n, err := breaker.Call(ctx, d.db, func(ctx context.Context) (*notification.Notification, error) {
		return d.repo.Get(ctx, p.Notification.ID)
	})
	if err != nil {
		log.LogAttrs(ctx, slog.LevelError, "dead job left notification unsettled", logger.Error(err))
		return
	}
	if !notification.CanApply(n.Status, notification.EventAbandon) {
		return
	}
	reason := "delivery job exhausted"
	if cause != nil {
		reason += ": " + cause.Error()
	}
	if _, err := d.abandon(ctx, n, reason, log); err != nil {
		log.LogAttrs(ctx, slog.LevelError, "dead job left notification unsettled", logger.Error(err))
	}
}

// abandon moves an undelivered notification to FAILED.
func (d *Dispatcher) abandon(ctx context.Context, n *notification.Notification, reason string, log *slog.Logger) (*notification.Notification, error) {
	failed, err := d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
		return d.repo.Transition(ctx, n.ID, notification.Change{Event: notification.EventAbandon, At: d.now(), Reason: reason})
	})
	if err != nil {
		return nil, err
	}
	d.metrics.RecordStatus(failed.Channel.String(), string(failed.Status))
	_ = d.emitter.Emit(ctx, events.New(events.NotificationFailed, failed, map[string]any{
		"error":    reason,
		"terminal": true,
		"attempts": failed.Attempts,
	}))
	log.LogAttrs(ctx, slog.LevelWarn, "notification abandoned", slog.String("reason", reason))
	return failed, nil
}

func (d *Dispatcher) expire(ctx context.Context, n *notification.Notification, log *slog.Logger) error {
	expired, err := d.transition(ctx, func(ctx context.Context) (*notification.Notification, error) {
		return d.repo.MarkAsExpired(ctx, n.ID)
	})
	if err != nil {
		return err
	}
	d.metrics.RecordStatus(expired.Channel.String(), string(expired.Status))
	_ = d.emitter.Emit(ctx, events.New(events.NotificationExpired, expired, nil))
	log.LogAttrs(ctx, slog.LevelInfo, "notification expired before delivery")
	return nil
}

// load returns the stored row, creating it from the job snapshot when the
// orchestrator could not persist it.
func (d *Dispatcher) load(ctx context.Context, snap *notification.Notification, log *slog.Logger) (*notification.Notification, error) {
	get := func(ctx context.Context) (*notification.Notification, error) { return d.repo.Get(ctx, snap.ID) }

	n, err := breaker.Call(ctx, d.db, get)
	if !errors.Is(err, notification.ErrNotFound) {
		return n, err
	}

	err = d.db.Execute(ctx, func(ctx context.Context) error {
		return d.repo.Create(ctx, snap.Clone())
	})
	if err != nil && !errors.Is(err, notification.ErrDuplicateID) {
		d.metrics.RecordPersistenceError("reconstitute")
		return nil, err
	}
	log.LogAttrs(ctx, slog.LevelInfo, "notification row rebuilt from job payload")
	return breaker.Call(ctx, d.db, get)
}

func (d *Dispatcher) transition(ctx context.Context, fn func(context.Context) (*notification.Notification, error)) (*notification.Notification, error) {
	n, err := breaker.Call(ctx, d.db, fn)
	if err != nil && isStoreFailure(err) {
		d.metrics.RecordPersistenceError("transition")
	}
	return n, err
}

func envelope(n *notification.Notification) provider.Envelope {
	env := provider.Envelope{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Recipient:      n.Recipient,
		Subject:        n.Subject,
		Body:           n.Content,
		Tag:            n.TemplateID,
		Metadata:       n.Metadata,
	}
	if f, _ := n.Metadata[MetaFormat].(string); f == string(template.FormatHTML) {
		env.HTML = true
	}
	if tb, _ := n.Metadata[MetaTextBody].(string); tb != "" {
		env.TextBody = tb
	}
	return env
}
