package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
)

// Check is a named readiness dependency.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// HealthReport is the body of the health endpoints.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const (
	StatusAlive    = "ALIVE"
	StatusReady    = "READY"
	StatusNotReady = "NOT_READY"
)

// LivenessHandler always answers 200 ALIVE while the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, http.StatusOK, HealthReport{Status: StatusAlive})
	}
}

// ReadinessHandler runs every check concurrently, each bounded by timeout,
// and answers 200 READY when all pass or 503 NOT_READY with the failing
// checks' errors.
func ReadinessHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]error, len(checks))

		var g errgroup.Group
		for i, c := range checks {
			g.Go(func() error {
				ctx := r.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				results[i] = c.Fn(ctx)
				return nil
			})
		}
		_ = g.Wait()

		report := HealthReport{Status: StatusReady, Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for i, c := range checks {
			if err := results[i]; err != nil {
				log.WarnContext(r.Context(), "readiness check failed", logger.Component(c.Name), logger.Error(err))
				report.Checks[c.Name] = err.Error()
				report.Status = StatusNotReady
				status = http.StatusServiceUnavailable
				continue
			}
			report.Checks[c.Name] = "ok"
		}
		writeReport(w, status, report)
	}
}

func writeReport(w http.ResponseWriter, status int, r HealthReport) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(r)
}
