package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// Type names a lifecycle event.
type Type string

const (
	NotificationCreated   Type = "notification.created"
	NotificationSent      Type = "notification.sent"
	NotificationFailed    Type = "notification.failed"
	NotificationDelivered Type = "notification.delivered"
	NotificationRead      Type = "notification.read"
	NotificationCancelled Type = "notification.cancelled"
	NotificationExpired   Type = "notification.expired"
)

// Event describes a notification lifecycle change.
type Event struct {
	ID             string               `json:"id"`
	Type           Type                 `json:"type"`
	NotificationID string               `json:"notificationId"`
	Channel        notification.Channel `json:"channel"`
	Status         notification.Status  `json:"status"`
	OccurredAt     time.Time            `json:"occurredAt"`
	Data           map[string]any       `json:"data,omitempty"`
}

// New builds an event for n.
func New(t Type, n *notification.Notification, data map[string]any) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           t,
		NotificationID: n.ID,
		Channel:        n.Channel,
		Status:         n.Status,
		OccurredAt:     time.Now().UTC(),
		Data:           data,
	}
}

// ForStatus maps a status reached by a transition to its event type.
func ForStatus(s notification.Status) (Type, bool) {
	switch s {
	case notification.StatusSent:
		return NotificationSent, true
	case notification.StatusFailed:
		return NotificationFailed, true
	case notification.StatusDelivered:
		return NotificationDelivered, true
	case notification.StatusRead:
		return NotificationRead, true
	case notification.StatusCancelled:
		return NotificationCancelled, true
	case notification.StatusExpired:
		return NotificationExpired, true
	}
	return "", false
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }
