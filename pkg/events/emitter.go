package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Emitter fans events out to every publisher. Emission is best effort:
// publisher errors are logged and never returned to the pipeline.
type Emitter struct {
	publishers []Publisher
	timeout    time.Duration
	log        *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithTimeout bounds each publish call.
func WithTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

// WithLogger sets the logger for publish failures.
func WithLogger(log *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEmitter creates an emitter over publishers. Nil publishers are skipped.
func NewEmitter(publishers []Publisher, opts ...EmitterOption) *Emitter {
	e := &Emitter{timeout: 5 * time.Second, log: slog.Default()}
	for _, p := range publishers {
		if p != nil {
			e.publishers = append(e.publishers, p)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit publishes ev to every publisher and returns the joined errors for
// callers that care. A nil Emitter does nothing.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, p := range e.publishers {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		err := p.Publish(pctx, ev)
		cancel()
		if err != nil {
			e.log.WarnContext(ctx, "failed to publish event",
				slog.String("event", string(ev.Type)),
				slog.String("notification_id", ev.NotificationID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
