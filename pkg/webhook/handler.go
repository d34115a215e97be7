package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/metrics"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// DefaultMaxBodyBytes caps callback bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Response is the JSON body returned to providers.
type Response struct {
	Success        bool   `json:"success"`
	Processed      int    `json:"processed"`
	NotificationID string `json:"notificationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

type channelConfig struct {
	verifier Verifier
	parser   Parser
}

// Handler applies provider delivery callbacks to stored notifications.
type Handler struct {
	repo     notification.Repository
	channels map[notification.Channel]channelConfig
	metrics  *metrics.Collector
	emitter  *events.Emitter
	log      *slog.Logger
	now      func() time.Time
	maxBody  int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithChannel accepts callbacks for ch, verified by v and parsed by p.
func WithChannel(ch notification.Channel, v Verifier, p Parser) Option {
	return func(h *Handler) {
		h.channels[ch] = channelConfig{verifier: v, parser: p}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(h *Handler) { h.metrics = c }
}

func WithEmitter(e *events.Emitter) Option {
	return func(h *Handler) { h.emitter = e }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler creates a Handler. Channels are registered with WithChannel
// or ProviderChannels.
func NewHandler(repo notification.Repository, opts ...Option) (*Handler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	h := &Handler{
		repo:     repo,
		channels: make(map[notification.Channel]channelConfig),
		log:      slog.Default(),
		now:      time.Now,
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns a router serving POST /{channel}. Mount it under /webhooks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{channel}", h.ServeHTTP)
	return r
}

// ServeHTTP handles a callback for the channel named by the "channel"
// route parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch := notification.Channel(chi.URLParam(r, "channel"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = ErrBodyTooLarge
		} else {
			err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		writeJSON(w, statusFor(err), Response{Error: err.Error()})
		return
	}

	resp, err := h.Handle(r.Context(), ch, r.Header, body)
	if err != nil {
		resp.Error = publicError(err)
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Handle verifies, parses and applies one callback. A signature failure
// returns before anything is read from or written to the repository.
// Events for unknown external ids and events the lifecycle does not allow
// are acknowledged without being counted as processed.
func (h *Handler) Handle(ctx context.Context, ch notification.Channel, header http.Header, body []byte) (Response, error) {
	cfg, ok := h.channels[ch]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	log := h.log.With(logger.Channel(string(ch)))

	if err := cfg.verifier.Verify(header, body); err != nil {
		h.metrics.RecordWebhook(string(ch), "signature", "rejected")
		log.LogAttrs(ctx, slog.LevelWarn, "webhook signature rejected", logger.Error(err))
		return Response{}, err
	}
	if len(body) == 0 {
		return Response{}, ErrEmptyBody
	}

	evs, err := cfg.parser.Parse(body)
	if err != nil {
		h.metrics.RecordWebhook(string(ch), "parse", "invalid")
		log.LogAttrs(ctx, slog.LevelWarn, "webhook payload rejected", logger.Error(err))
		return Response{}, err
	}

	resp := Response{Success: true}
	for _, ev := range evs {
		n, applied, err := h.apply(ctx, log, string(ch), ev)
		if err != nil {
			h.metrics.RecordWebhook(string(ch), string(ev.Kind), "error")
			resp.Success = false
			return resp, err
		}
		if n != nil {
			resp.NotificationID = n.ID
		}
		if applied {
			resp.Processed++
		}
	}
	return resp, nil
}

func (h *Handler) apply(ctx context.Context, log *slog.Logger, ch string, ev Event) (*notification.Notification, bool, error) {
	if ev.Kind == KindIgnored {
		return nil, false, nil
	}
	log = log.With(logger.ExternalID(ev.ExternalID), logger.Event(string(ev.Kind)))

	n, err := h.repo.FindByExternalID(ctx, ev.ExternalID)
	if errors.Is(err, notification.ErrNotFound) {
		// Late callbacks for purged rows land here.
		h.metrics.RecordWebhook(ch, string(ev.Kind), "unmatched")
		log.LogAttrs(ctx, slog.LevelInfo, "webhook for unknown external id", logger.Error(notification.ErrUnknownNotification))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: find %s: %w", notification.ErrPersistence, ev.ExternalID, err)
	}
	log = log.With(logger.NotificationID(n.ID))
	if n.Channel.String() != ch {
		// External ids are only unique per provider.
		h.metrics.RecordWebhook(ch, string(ev.Kind), "unmatched")
		log.LogAttrs(ctx, slog.LevelWarn, "webhook channel does not match notification",
			slog.String("notification_channel", n.Channel.String()),
		)
		return nil, false, nil
	}

	at := ev.At
	if at.IsZero() {
		at = h.now()
	}

	var updated *notification.Notification
	switch ev.Kind {
	case KindDelivered:
		updated, err = h.repo.MarkAsDelivered(ctx, n.ID, at)
	case KindRead:
		updated, err = h.repo.MarkAsRead(ctx, n.ID, at)
	case KindFailed:
		updated, err = h.repo.MarkAsBounced(ctx, n.ID, ev.Reason)
	case KindClicked:
		updated, err = h.repo.RecordClick(ctx, n.ID, ev.URL, at)
	default:
		return n, false, nil
	}

	switch {
	case errors.Is(err, notification.ErrInvalidTransition):
		// Out of order or duplicate; READ is never regressed.
		h.metrics.RecordWebhook(ch, string(ev.Kind), "ignored")
		log.LogAttrs(ctx, slog.LevelDebug, "webhook event ignored", logger.Status(string(n.Status)))
		return n, false, nil
	case err != nil:
		return n, false, fmt.Errorf("%w: apply %s to %s: %w", notification.ErrPersistence, ev.Kind, n.ID, err)
	}

	h.metrics.RecordWebhook(ch, string(ev.Kind), "applied")
	if updated.Status != n.Status {
		h.metrics.RecordStatus(ch, string(updated.Status))
		if t, ok := events.ForStatus(updated.Status); ok {
			_ = h.emitter.Emit(ctx, events.New(t, updated, map[string]any{"provider_status": ev.Raw}))
		}
	}
	log.LogAttrs(ctx, slog.LevelInfo, "webhook event applied", logger.Status(string(updated.Status)))
	return updated, true, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, notification.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrEmptyBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicError keeps internal details out of provider-facing bodies.
func publicError(err error) string {
	switch statusFor(err) {
	case http.StatusUnauthorized:
		return "invalid signature"
	case http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
