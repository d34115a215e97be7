package notification

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Channel is the delivery medium of a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

func (c Channel) String() string { return string(c) }

// Queue returns the queue name jobs for this channel are enqueued on.
func (c Channel) Queue() string { return string(c) }

// ParseChannel accepts channel names case-insensitively.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return c, nil
}

// Priority ranks urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// QueuePriority maps the priority to the numeric queue priority.
// Lower values are dequeued first.
func (p Priority) QueuePriority() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 5
	case PriorityLow:
		return 15
	default:
		return 10
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority returns PriorityNormal for an empty string.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToLower(s))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusPending   Status = "PENDING"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further delivery attempt will be made.
// SENT and DELIVERED still accept webhook updates but are not re-sent.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Default values applied by New.
const (
	DefaultMaxAttempts = 3
)

// Message is the caller-facing input of a send request.
type Message struct {
	ID           string         `json:"id,omitempty"`
	Channel      Channel        `json:"channel"`
	Recipient    string         `json:"recipient"`
	Subject      string         `json:"subject,omitempty"`
	Content      string         `json:"content"`
	TemplateID   string         `json:"templateId,omitempty"`
	TemplateData map[string]any `json:"templateData,omitempty"`
	Locale       string         `json:"locale,omitempty"`
	Priority     Priority       `json:"priority,omitempty"`
	ScheduledAt  *time.Time     `json:"scheduledAt,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	MaxAttempts  int            `json:"maxAttempts,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ActorID      string         `json:"actorId,omitempty"`
}

// Notification is the persisted record of one outbound message.
type Notification struct {
	ID           string         `json:"id"`
	Channel      Channel        `json:"channel"`
	Recipient    string         `json:"recipient"`
	Subject      string         `json:"subject,omitempty"`
	Content      string         `json:"content"`
	TemplateID   string         `json:"templateId,omitempty"`
	TemplateData map[string]any `json:"templateData,omitempty"`
	Locale       string         `json:"locale,omitempty"`
	Priority     Priority       `json:"priority"`
	Status       Status         `json:"status"`
	ScheduledAt  *time.Time     `json:"scheduledAt,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"maxAttempts"`
	LastError    string         `json:"lastError,omitempty"`

	ExternalID       string         `json:"externalId,omitempty"`
	ProviderResponse map[string]any `json:"providerResponse,omitempty"`
	Cost             *float64       `json:"cost,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	ActorID  string         `json:"actorId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// New builds a notification from a message. The initial status is SCHEDULED
// when ScheduledAt lies after now, PENDING otherwise.
func New(msg Message, now time.Time) *Notification {
	n := &Notification{
		ID:           msg.ID,
		Channel:      msg.Channel,
		Recipient:    msg.Recipient,
		Subject:      msg.Subject,
		Content:      msg.Content,
		TemplateID:   msg.TemplateID,
		TemplateData: maps.Clone(msg.TemplateData),
		Locale:       msg.Locale,
		Priority:     msg.Priority,
		Status:       StatusPending,
		ScheduledAt:  msg.ScheduledAt,
		ExpiresAt:    msg.ExpiresAt,
		MaxAttempts:  msg.MaxAttempts,
		Metadata:     maps.Clone(msg.Metadata),
		ActorID:      msg.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = DefaultMaxAttempts
	}
	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		n.Status = StatusScheduled
	}
	return n
}

// Delay returns how long until the notification becomes due, never negative.
func (n *Notification) Delay(now time.Time) time.Duration {
	if n.ScheduledAt == nil {
		return 0
	}
	return max(n.ScheduledAt.Sub(now), 0)
}

// IsExpired reports whether ExpiresAt lies at or before now.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// Clone returns a deep copy safe to hand out of a repository.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.TemplateData = maps.Clone(n.TemplateData)
	c.ProviderResponse = maps.Clone(n.ProviderResponse)
	c.Metadata = maps.Clone(n.Metadata)
	if n.Cost != nil {
		v := *n.Cost
		c.Cost = &v
	}
	return &c
}

// Receipt is what an adapter returns for an accepted message.
type Receipt struct {
	ExternalID       string
	ProviderResponse map[string]any
	Cost             *float64
}
