package reminder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/metrics"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

// QueueName is the queue reminder jobs live on.
const QueueName = "reminders"

// JobName labels reminder jobs.
const JobName = "booking-reminder"

// DefaultSafetyMargin skips reminders due within this much of now.
const DefaultSafetyMargin = 60 * time.Second

// JobQueue is the part of queue.Queue the scheduler uses.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...queue.EnqueueOption) (*queue.JobHandle, error)
	Remove(ctx context.Context, id string) (bool, error)
	Jobs(ctx context.Context, name string, states ...queue.State) ([]*queue.Job, error)
}

// BookingFetcher loads the current state of a booking.
type BookingFetcher interface {
	FetchBooking(ctx context.Context, id string) (*Booking, error)
}

// Scheduler enqueues delayed reminder jobs relative to a booking's
// service datetime.
type Scheduler struct {
	queue   JobQueue
	fetcher BookingFetcher
	metrics *metrics.Collector
	log     *slog.Logger
	now     func() time.Time
	loc     *time.Location
	margin  time.Duration
	types   []Type
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithFetcher enables Reschedule.
func WithFetcher(f BookingFetcher) Option {
	return func(s *Scheduler) { s.fetcher = f }
}

// WithLocation sets the zone used for datetimes without an offset and for
// the date and time shown in messages.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithSafetyMargin(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.margin = d
		}
	}
}

// WithTypes restricts the reminders scheduled per booking.
func WithTypes(types ...Type) Option {
	return func(s *Scheduler) {
		if len(types) > 0 {
			s.types = types
		}
	}
}

// New creates a Scheduler.
func New(q JobQueue, opts ...Option) (*Scheduler, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	s := &Scheduler{
		queue:  q,
		log:    slog.Default(),
		now:    time.Now,
		loc:    time.UTC,
		margin: DefaultSafetyMargin,
		types:  Types,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, t := range s.types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
	}
	return s, nil
}

// Plan validates b and returns the reminders that would be scheduled now.
// Instants at or before now plus the safety margin are left out.
func (s *Scheduler) Plan(b Booking) ([]Payload, error) {
	if strings.TrimSpace(b.ID) == "" {
		return nil, ErrBookingID
	}
	serviceAt, err := s.parse(b.ServiceDateTime)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !serviceAt.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrServiceInPast, serviceAt.Format(time.RFC3339))
	}

	ch, recipient := notification.ChannelSMS, strings.TrimSpace(b.CustomerPhone)
	if recipient == "" {
		ch, recipient = notification.ChannelEmail, strings.TrimSpace(b.CustomerEmail)
	}
	if recipient == "" {
		return nil, ErrNoContact
	}

	local := serviceAt.In(s.loc)
	vars := map[string]any{
		"customerName":     b.CustomerName,
		"serviceName":      b.ServiceName,
		"serviceDate":      local.Format("02/01/2006"),
		"serviceTime":      local.Format("15:04"),
		"address":          b.Address,
		"bookingReference": cmp.Or(b.Reference, b.ID),
	}

	horizon := now.Add(s.margin)
	out := make([]Payload, 0, len(s.types))
	for _, t := range s.types {
		at := serviceAt.Add(-t.Offset())
		if !at.After(horizon) {
			continue
		}
		out = append(out, Payload{
			BookingID:    b.ID,
			Type:         t,
			ScheduledFor: at,
			ServiceAt:    serviceAt,
			Channel:      ch,
			Recipient:    recipient,
			TemplateID:   TemplateID(t, ch),
			Locale:       b.Locale,
			Vars:         vars,
		})
	}
	return out, nil
}

// Schedule enqueues the reminders of b. Pending reminders of the booking
// are dropped first, so a booking moved closer does not keep a reminder its
// new plan leaves out. Job ids are derived from the booking and the
// reminder type.
func (s *Scheduler) Schedule(ctx context.Context, b Booking) ([]Scheduled, error) {
	plan, err := s.Plan(b)
	if err != nil {
		return nil, err
	}
	if _, err := s.Cancel(ctx, b.ID); err != nil {
		return nil, fmt.Errorf("drop previous reminders of %s: %w", b.ID, err)
	}

	out := make([]Scheduled, 0, len(plan))
	for _, p := range plan {
		id := JobID(p.BookingID, p.Type)
		_, err := s.queue.Enqueue(ctx, QueueName, p,
			queue.WithJobID(id),
			queue.WithName(JobName),
			queue.WithPriority(p.Type.QueuePriority()),
			queue.WithRunAt(p.ScheduledFor),
		)
		if err != nil {
			return out, fmt.Errorf("schedule %s: %w", id, err)
		}
		s.metrics.RecordReminder(string(p.Type), "scheduled", 1)
		out = append(out, Scheduled{JobID: id, Type: p.Type, ScheduledFor: p.ScheduledFor, Channel: p.Channel})
	}

	s.log.LogAttrs(ctx, slog.LevelInfo, "booking reminders scheduled",
		bookingAttr(b.ID),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// Cancel removes the waiting and delayed reminders of a booking and
// returns how many were removed. Reminders already being processed are
// left alone.
func (s *Scheduler) Cancel(ctx context.Context, bookingID string) (int, error) {
	if bookingID == "" {
		return 0, ErrBookingID
	}
	jobs, err := s.queue.Jobs(ctx, QueueName, queue.StateWaiting, queue.StateDelayed)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, j := range jobs {
		var p Payload
		if err := j.Decode(&p); err != nil || p.BookingID != bookingID {
			continue
		}
		ok, err := s.queue.Remove(ctx, j.ID)
		switch {
		case errors.Is(err, queue.ErrJobActive):
			continue
		case err != nil:
			errs = append(errs, err)
		case ok:
			removed++
			s.metrics.RecordReminder(string(p.Type), "cancelled", 1)
		}
	}

	if removed > 0 {
		s.log.LogAttrs(ctx, slog.LevelInfo, "booking reminders cancelled",
			bookingAttr(bookingID),
			slog.Int("count", removed),
		)
	}
	return removed, errors.Join(errs...)
}

// Reschedule schedules the reminders of a booking again from a freshly
// fetched snapshot.
func (s *Scheduler) Reschedule(ctx context.Context, bookingID string) ([]Scheduled, error) {
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}
	b, err := s.fetcher.FetchBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("fetch booking %s: %w", bookingID, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if b.Cancelled() {
		if _, err := s.Cancel(ctx, bookingID); err != nil {
			return nil, err
		}
		return []Scheduled{}, nil
	}
	b.ID = bookingID
	return s.Schedule(ctx, *b)
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

func (s *Scheduler) parse(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, s.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, v)
}

func bookingAttr(id string) slog.Attr { return slog.String("booking_id", id) }
