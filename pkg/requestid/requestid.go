// Package requestid tags every inbound HTTP request with a correlation id
// that follows it into the logs of the webhook handler and the API.
package requestid

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
)

// Header is echoed on every response.
const Header = "X-Request-ID"

// DefaultSources are the inbound headers trusted as a correlation id, in
// order. Providers set their own delivery ids on callbacks.
var DefaultSources = []string{Header, "X-Correlation-ID", "I-Twilio-Idempotency-Token"}

const maxLen = 128

var validID = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

type contextKey struct{}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored by the middleware, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Middleware reuses the first valid id found in sources (DefaultSources
// when empty) and generates one otherwise.
func Middleware(sources ...string) func(http.Handler) http.Handler {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			for _, h := range sources {
				if v := r.Header.Get(h); valid(v) {
					id = v
					break
				}
			}
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(Header, id)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}

// LoggerExtractor adds request_id to records logged with a request context.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return slog.String("request_id", id), true
		}
		return slog.Attr{}, false
	}
}

func valid(id string) bool {
	return id != "" && len(id) <= maxLen && validID.MatchString(id)
}
