package notification

import (
	"slices"
	"time"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventActivate     Event = "activate"
	EventStartSending Event = "start_sending"
	EventSent         Event = "sent"
	EventFail         Event = "fail"
	EventDeliver      Event = "deliver"
	EventRead         Event = "read"
	EventBounce       Event = "bounce"
	EventCancel       Event = "cancel"
	EventExpire       Event = "expire"
	EventRequeue      Event = "requeue"
	EventRelease      Event = "release"
	EventAbandon      Event = "abandon"
)

// transitions maps event -> allowed source statuses.
// The target status is resolved in Apply; EventFail branches on attempts.
var transitions = map[Event][]Status{
	EventActivate:     {StatusScheduled},
	EventStartSending: {StatusPending, StatusRetrying},
	EventSent:         {StatusSending},
	EventFail:         {StatusSending},
	EventDeliver:      {StatusSent},
	EventRead:         {StatusSent, StatusDelivered},
	EventBounce:       {StatusSent, StatusDelivered},
	EventCancel:       {StatusScheduled, StatusPending, StatusRetrying},
	EventExpire:       {StatusScheduled, StatusPending, StatusRetrying},
	EventRequeue:      {StatusFailed},
	EventRelease:      {StatusSending},
	EventAbandon:      {StatusScheduled, StatusPending, StatusRetrying, StatusSending},
}

// Change describes one lifecycle event and the data it carries.
type Change struct {
	Event    Event
	At       time.Time
	Receipt  *Receipt
	Reason   string
	Terminal bool
}

// CanApply reports whether ev is allowed from status s.
func CanApply(s Status, ev Event) bool {
	return slices.Contains(transitions[ev], s)
}

// Apply mutates n according to c. n is left untouched when an error is returned.
func Apply(n *Notification, c Change) error {
	if !CanApply(n.Status, c.Event) {
		return &TransitionError{ID: n.ID, From: n.Status, Event: c.Event}
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	switch c.Event {
	case EventActivate:
		n.Status = StatusPending

	case EventStartSending:
		if n.Attempts >= n.MaxAttempts {
			return ErrAttemptsExhausted
		}
		n.Attempts++
		n.Status = StatusSending

	case EventSent:
		if c.Receipt != nil {
			n.ExternalID = c.Receipt.ExternalID
			n.ProviderResponse = c.Receipt.ProviderResponse
			n.Cost = c.Receipt.Cost
		}
		n.LastError = ""
		n.Status = StatusSent
		n.SentAt = &at

	case EventFail:
		n.LastError = c.Reason
		if c.Terminal || n.Attempts >= n.MaxAttempts {
			n.Status = StatusFailed
			n.FailedAt = &at
		} else {
			n.Status = StatusRetrying
		}

	case EventDeliver:
		n.Status = StatusDelivered
		n.DeliveredAt = &at

	case EventRead:
		if n.DeliveredAt == nil {
			n.DeliveredAt = &at
		}
		n.Status = StatusRead
		n.ReadAt = &at

	case EventBounce:
		n.LastError = c.Reason
		n.Status = StatusFailed
		n.FailedAt = &at

	case EventCancel:
		n.Status = StatusCancelled
		if c.Reason != "" {
			n.setMeta("cancel_reason", c.Reason)
		}

	case EventExpire:
		n.Status = StatusExpired

	case EventRequeue:
		n.Attempts = 0
		n.LastError = ""
		n.FailedAt = nil
		n.Status = StatusPending

	case EventRelease:
		// The send never reached the provider; give the attempt back.
		n.Attempts = max(n.Attempts-1, 0)
		if n.Attempts == 0 {
			n.Status = StatusPending
		} else {
			n.Status = StatusRetrying
		}

	case EventAbandon:
		n.LastError = c.Reason
		n.Status = StatusFailed
		n.FailedAt = &at
	}

	n.UpdatedAt = at
	return nil
}

// RecordClick stores engagement metadata without changing status.
func RecordClick(n *Notification, url string, at time.Time) {
	n.setMeta("clicks", ClickCount(n)+1)
	n.setMeta("last_clicked_at", at.UTC().Format(time.RFC3339))
	if url != "" {
		n.setMeta("last_clicked_url", url)
	}
	n.UpdatedAt = at
}

// ClickCount reads the click counter from metadata. JSON round trips turn
// integers into float64, both are accepted.
func ClickCount(n *Notification) int {
	switch v := n.Metadata["clicks"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (n *Notification) setMeta(key string, v any) {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = v
}
