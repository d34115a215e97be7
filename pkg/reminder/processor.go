package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/orchestrator"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

// Sender hands a reminder message to the notification pipeline.
type Sender interface {
	Send(ctx context.Context, msg notification.Message) *orchestrator.Result
}

// Processor returns the queue processor of the reminders queue. Each job
// becomes one templated notification sent through sender.
func (s *Scheduler) Processor(sender Sender) (queue.Processor, error) {
	if sender == nil {
		return nil, ErrSenderNil
	}
	return queue.Typed(func(ctx context.Context, job *queue.Job, p Payload) error {
		return s.deliver(ctx, sender, job, p)
	}), nil
}

func (s *Scheduler) deliver(ctx context.Context, sender Sender, job *queue.Job, p Payload) error {
	if p.BookingID == "" || !p.Type.Valid() || !p.Channel.Valid() {
		return fmt.Errorf("%w: job %s", ErrInvalidPayload, job.ID)
	}
	log := s.log.With(logger.JobID(job.ID), bookingAttr(p.BookingID), slog.String("reminder_type", string(p.Type)))

	if !s.now().Before(p.ServiceAt) {
		s.metrics.RecordReminder(string(p.Type), "skipped", 1)
		log.LogAttrs(ctx, slog.LevelWarn, "reminder is past the service time, skipping")
		return nil
	}

	if s.fetcher != nil {
		current, err := s.stillDue(ctx, p)
		if err != nil {
			return err
		}
		if !current {
			s.metrics.RecordReminder(string(p.Type), "skipped", 1)
			log.LogAttrs(ctx, slog.LevelInfo, "booking changed since the reminder was planned, skipping")
			return nil
		}
	}

	expires := p.ServiceAt
	res := sender.Send(ctx, notification.Message{
		// Stable per firing so a redelivered job maps onto the same row.
		ID:           job.ID + "-" + strconv.FormatInt(p.ScheduledFor.Unix(), 10),
		Channel:      p.Channel,
		Recipient:    p.Recipient,
		TemplateID:   p.TemplateID,
		TemplateData: p.Vars,
		Locale:       p.Locale,
		Priority:     p.Type.Priority(),
		ExpiresAt:    &expires,
		Metadata: map[string]any{
			"bookingId":    p.BookingID,
			"reminderType": string(p.Type),
		},
	})
	if res.Success {
		s.metrics.RecordReminder(string(p.Type), "sent", 1)
		log.LogAttrs(ctx, slog.LevelInfo, "reminder handed to pipeline", logger.NotificationID(res.ID))
		return nil
	}

	switch {
	case errors.Is(res.Err, notification.ErrValidation), errors.Is(res.Err, notification.ErrTemplate):
		// Retrying cannot fix the content.
		s.metrics.RecordReminder(string(p.Type), "rejected", 1)
		log.LogAttrs(ctx, slog.LevelError, "reminder rejected", logger.Error(res.Err))
		return nil
	case errors.Is(res.Err, queue.ErrJobActive):
		// The previous delivery of this firing is still being sent.
		return nil
	}
	s.metrics.RecordReminder(string(p.Type), "failed", 1)
	return fmt.Errorf("send reminder %s: %w", job.ID, res.Err)
}

// stillDue reports whether the booking still exists, is not cancelled and
// keeps the service time the reminder was planned for.
func (s *Scheduler) stillDue(ctx context.Context, p Payload) (bool, error) {
	b, err := s.fetcher.FetchBooking(ctx, p.BookingID)
	if err != nil {
		return false, fmt.Errorf("fetch booking %s: %w", p.BookingID, err)
	}
	if b == nil || b.Cancelled() {
		return false, nil
	}
	serviceAt, err := s.parse(b.ServiceDateTime)
	if err != nil {
		return false, nil
	}
	return serviceAt.Equal(p.ServiceAt), nil
}
