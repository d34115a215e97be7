package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// NotificationID records the notification identifier under "notification_id".
func NotificationID(id string) slog.Attr {
	return slog.String("notification_id", id)
}

// Channel records the delivery channel under "channel".
func Channel(ch string) slog.Attr {
	return slog.String("channel", ch)
}

// Queue records the queue name under "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// JobID records the queue job identifier under "job_id".
func JobID(id string) slog.Attr {
	return slog.String("job_id", id)
}

// ExternalID records the provider message identifier under "external_id".
// Empty ids produce an empty Attr.
func ExternalID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("external_id", id)
}

// Status records a lifecycle status under "status".
func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// Attempt records the delivery attempt number under "attempt".
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}
