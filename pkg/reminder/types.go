package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

// Type identifies a reminder by its distance to the service.
type Type string

const (
	Type7d  Type = "7d"
	Type24h Type = "24h"
	Type1h  Type = "1h"
)

// Types lists every reminder, earliest first.
var Types = []Type{Type7d, Type24h, Type1h}

// Offset is how long before the service the reminder fires.
func (t Type) Offset() time.Duration {
	switch t {
	case Type7d:
		return 7 * 24 * time.Hour
	case Type24h:
		return 24 * time.Hour
	case Type1h:
		return time.Hour
	}
	return 0
}

// QueuePriority ranks closer reminders first.
func (t Type) QueuePriority() int {
	switch t {
	case Type1h:
		return queue.PriorityUrgent
	case Type24h:
		return queue.PriorityHigh
	}
	return queue.PriorityDefault
}

// Priority is the notification priority of the reminder message.
func (t Type) Priority() notification.Priority {
	switch t {
	case Type1h:
		return notification.PriorityUrgent
	case Type24h:
		return notification.PriorityHigh
	}
	return notification.PriorityNormal
}

func (t Type) Valid() bool { return t.Offset() > 0 }

// ParseType accepts "7d", "24h" and "1h".
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// JobID is the deterministic queue job id of a booking reminder.
func JobID(bookingID string, t Type) string {
	return "reminder-" + bookingID + "-" + string(t)
}

// TemplateID names the template used for a reminder on ch.
func TemplateID(t Type, ch notification.Channel) string {
	return "booking-reminder-" + string(t) + "-" + ch.String()
}

// Booking is the booking snapshot reminders are computed from.
// ServiceDateTime is RFC 3339, or "2006-01-02T15:04" in the scheduler's
// location.
type Booking struct {
	ID              string `json:"id"`
	Reference       string `json:"reference,omitempty"`
	CustomerName    string `json:"customerName,omitempty"`
	CustomerEmail   string `json:"customerEmail,omitempty"`
	CustomerPhone   string `json:"customerPhone,omitempty"`
	ServiceName     string `json:"serviceName,omitempty"`
	ServiceDateTime string `json:"serviceDateTime"`
	Address         string `json:"address,omitempty"`
	Locale          string `json:"locale,omitempty"`
	Status          string `json:"status,omitempty"`
}

// Cancelled reports whether the booking system marked the booking cancelled.
func (b Booking) Cancelled() bool {
	return strings.EqualFold(b.Status, "cancelled") || strings.EqualFold(b.Status, "canceled")
}

// Payload is the reminder job body. It is fully denormalised so the
// processor can send it without the booking; with a fetcher configured the
// booking is still checked before each firing.
type Payload struct {
	BookingID    string               `json:"bookingId"`
	Type         Type                 `json:"reminderType"`
	ScheduledFor time.Time            `json:"scheduledFor"`
	ServiceAt    time.Time            `json:"serviceDateTime"`
	Channel      notification.Channel `json:"channel"`
	Recipient    string               `json:"recipient"`
	TemplateID   string               `json:"templateId"`
	Locale       string               `json:"locale,omitempty"`
	Vars         map[string]any       `json:"vars"`
}

// Scheduled describes one enqueued reminder.
type Scheduled struct {
	JobID        string               `json:"jobId"`
	Type         Type                 `json:"reminderType"`
	ScheduledFor time.Time            `json:"scheduledFor"`
	Channel      notification.Channel `json:"channel"`
}
