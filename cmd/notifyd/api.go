package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/orchestrator"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/reminder"
)

// api exposes the pipeline to the booking services.
type api struct {
	orch      *orchestrator.Orchestrator
	reminders *reminder.Scheduler
	repo      notification.Repository
	log       *slog.Logger
}

func (a *api) routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/notifications", a.send)
	r.Post("/notifications/bulk", a.sendBulk)
	r.Get("/notifications/stats", a.stats)
	r.Get("/notifications/{id}", a.get)
	r.Post("/notifications/{id}/cancel", a.cancel)
	r.Post("/notifications/{id}/retry", a.retry)
	r.Post("/bookings/{id}/reminders", a.scheduleReminders)
	r.Delete("/bookings/{id}/reminders", a.cancelReminders)
	r.Post("/bookings/{id}/reminders/reschedule", a.rescheduleReminders)
	r.Get("/health", a.health)
	return r
}

func (a *api) send(w http.ResponseWriter, r *http.Request) {
	var msg notification.Message
	if !a.decode(w, r, &msg) {
		return
	}
	res := a.orch.Send(r.Context(), msg)
	if res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	}
	writeJSON(w, sendStatus(res), res)
}

type bulkRequest struct {
	Messages  []notification.Message `json:"messages"`
	BatchSize int                    `json:"batchSize,omitempty"`
	DelayMs   int64                  `json:"delayMs,omitempty"`
}

func (a *api) sendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !a.decode(w, r, &req) {
		return
	}
	results, err := a.orch.SendBulk(r.Context(), req.Messages, orchestrator.BulkOptions{
		BatchSize: req.BatchSize,
		Delay:     time.Duration(req.DelayMs) * time.Millisecond,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, results)
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	n, err := a.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be RFC3339"})
			return
		}
		since = t
	}
	st, err := a.repo.GetStats(r.Context(), since)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	n, err := a.orch.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if n == nil {
		// Job removed before the row was ever persisted.
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": notification.StatusCancelled})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *api) retry(w http.ResponseWriter, r *http.Request) {
	res, err := a.orch.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *api) scheduleReminders(w http.ResponseWriter, r *http.Request) {
	var b reminder.Booking
	if !a.decode(w, r, &b) {
		return
	}
	b.ID = chi.URLParam(r, "id")
	scheduled, err := a.reminders.Schedule(r.Context(), b)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bookingId": b.ID, "reminders": scheduled})
}

func (a *api) cancelReminders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := a.reminders.Cancel(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookingId": id, "cancelled": n})
}

// rescheduleReminders rebuilds the reminders of a booking from the booking
// service, for callers that only know the booking changed.
func (a *api) rescheduleReminders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scheduled, err := a.reminders.Reschedule(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookingId": id, "reminders": scheduled})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	h := a.orch.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "api request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func sendStatus(res *orchestrator.Result) int {
	if res.Success {
		return http.StatusAccepted
	}
	return errorStatus(res.Err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, notification.ErrValidation),
		errors.Is(err, orchestrator.ErrEmptyBatch),
		errors.Is(err, reminder.ErrBookingID),
		errors.Is(err, reminder.ErrInvalidDateTime),
		errors.Is(err, reminder.ErrServiceInPast),
		errors.Is(err, reminder.ErrNoContact):
		return http.StatusBadRequest
	case errors.Is(err, notification.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, notification.ErrTemplate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, notification.ErrNotFound),
		errors.Is(err, reminder.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, reminder.ErrNoFetcher):
		return http.StatusNotImplemented
	case errors.Is(err, orchestrator.ErrInFlight),
		errors.Is(err, orchestrator.ErrNotCancellable),
		errors.Is(err, notification.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, notification.ErrQueue):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
