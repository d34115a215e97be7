package notification

import (
	"context"
	"time"
)

// Repository persists notifications and owns their lifecycle transitions.
// Every Mark* method applies the lifecycle rules atomically for one row and
// returns the updated record, or a *TransitionError when the event is not
// allowed from the stored status.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	FindByExternalID(ctx context.Context, externalID string) (*Notification, error)
	List(ctx context.Context, f Filter) ([]*Notification, error)

	Transition(ctx context.Context, id string, c Change) (*Notification, error)
	MarkAsPending(ctx context.Context, id string) (*Notification, error)
	MarkAsSending(ctx context.Context, id string) (*Notification, error)
	MarkAsSent(ctx context.Context, id string, r Receipt) (*Notification, error)
	MarkAsFailed(ctx context.Context, id, reason string, terminal bool) (*Notification, error)
	MarkAsBounced(ctx context.Context, id, reason string) (*Notification, error)
	MarkAsDelivered(ctx context.Context, id string, at time.Time) (*Notification, error)
	MarkAsRead(ctx context.Context, id string, at time.Time) (*Notification, error)
	MarkAsCancelled(ctx context.Context, id, reason string) (*Notification, error)
	MarkAsExpired(ctx context.Context, id string) (*Notification, error)
	Requeue(ctx context.Context, id string) (*Notification, error)
	RecordClick(ctx context.Context, id, url string, at time.Time) (*Notification, error)

	FindScheduledReady(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...Status) (int, error)
	GetStats(ctx context.Context, since time.Time) (*Stats, error)
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	Channel       Channel
	Statuses      []Status
	Recipient     string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

// Stats aggregates notifications created since a point in time.
type Stats struct {
	Total     int             `json:"total"`
	ByStatus  map[Status]int  `json:"byStatus"`
	ByChannel map[Channel]int `json:"byChannel"`
	TotalCost float64         `json:"totalCost"`
}

func newStats() *Stats {
	return &Stats{
		ByStatus:  make(map[Status]int),
		ByChannel: make(map[Channel]int),
	}
}

// RetentionStatuses are the statuses the retention sweep may delete.
var RetentionStatuses = []Status{
	StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusCancelled, StatusExpired,
}

type transitioner interface {
	Transition(ctx context.Context, id string, c Change) (*Notification, error)
}

// marker implements the Mark* helpers on top of Transition.
type marker struct {
	t   transitioner
	now func() time.Time
}

func (m marker) MarkAsPending(ctx context.Context, id string) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventActivate, At: m.now()})
}

func (m marker) MarkAsSending(ctx context.Context, id string) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventStartSending, At: m.now()})
}

func (m marker) MarkAsSent(ctx context.Context, id string, r Receipt) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventSent, At: m.now(), Receipt: &r})
}

func (m marker) MarkAsFailed(ctx context.Context, id, reason string, terminal bool) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventFail, At: m.now(), Reason: reason, Terminal: terminal})
}

func (m marker) MarkAsBounced(ctx context.Context, id, reason string) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventBounce, At: m.now(), Reason: reason})
}

func (m marker) MarkAsDelivered(ctx context.Context, id string, at time.Time) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventDeliver, At: orNow(at, m.now)})
}

func (m marker) MarkAsRead(ctx context.Context, id string, at time.Time) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventRead, At: orNow(at, m.now)})
}

func (m marker) MarkAsCancelled(ctx context.Context, id, reason string) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventCancel, At: m.now(), Reason: reason})
}

func (m marker) MarkAsExpired(ctx context.Context, id string) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventExpire, At: m.now()})
}

func (m marker) Requeue(ctx context.Context, id string) (*Notification, error) {
	return m.t.Transition(ctx, id, Change{Event: EventRequeue, At: m.now()})
}

func orNow(at time.Time, now func() time.Time) time.Time {
	if at.IsZero() {
		return now()
	}
	return at
}
