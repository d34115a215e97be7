package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// LogAdapter accepts every message and only logs it. It stands in for a
// channel whose provider is not configured and records sends for tests.
type LogAdapter struct {
	channel notification.Channel
	log     *slog.Logger

	mu   sync.Mutex
	sent []Envelope
}

// NewLogAdapter creates a logging adapter for ch.
func NewLogAdapter(ch notification.Channel, log *slog.Logger) *LogAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &LogAdapter{channel: ch, log: log}
}

func (l *LogAdapter) Name() string { return "log" }

func (l *LogAdapter) Channel() notification.Channel { return l.channel }

func (l *LogAdapter) Send(ctx context.Context, env Envelope) (notification.Receipt, error) {
	if err := checkChannel(l, env); err != nil {
		return notification.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return notification.Receipt{}, Transient(err)
	}

	l.mu.Lock()
	l.sent = append(l.sent, env)
	l.mu.Unlock()

	id := "log-" + uuid.NewString()
	l.log.InfoContext(ctx, "notification sent to log adapter",
		slog.String("channel", string(l.channel)),
		slog.String("notification_id", env.NotificationID),
		slog.String("recipient", env.Recipient),
		slog.String("subject", env.Subject),
		slog.String("external_id", id),
	)
	return notification.Receipt{ExternalID: id, ProviderResponse: map[string]any{"provider": l.Name()}}, nil
}

// Sent returns a copy of every accepted envelope.
func (l *LogAdapter) Sent() []Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Envelope(nil), l.sent...)
}
