package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/content"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/metrics"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/ratelimiter"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/template"
)

// DBBreaker is the breaker name guarding repository calls.
const DBBreaker = "db"

// Renderer resolves a template id into content.
type Renderer interface {
	Render(ctx context.Context, id string, vars map[string]any, locale string) (*template.Rendered, error)
}

// Validator checks and normalises message content.
type Validator interface {
	Validate(in content.Input) (*content.Result, error)
}

// Limiter counts requests per scope and actor.
type Limiter interface {
	Check(ctx context.Context, scope, actor string) (*ratelimiter.Result, error)
}

// Purger drops expired rate-limit windows.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Option configures the Orchestrator, the Dispatcher and the Sweeper. Each
// component ignores the options it has no use for.
type Option func(*options)

type options struct {
	cfg       Config
	log       *slog.Logger
	metrics   *metrics.Collector
	emitter   *events.Emitter
	breakers  *breaker.Registry
	validator Validator
	limiter   Limiter
	templates Renderer
	now       func() time.Time
	newID     func() string
}

func defaultOptions() options {
	return options{
		cfg:       DefaultConfig(),
		log:       slog.Default(),
		breakers:  breaker.NewRegistry(breaker.DefaultConfig()),
		validator: content.NewValidator(content.DefaultConfig()),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithConfig replaces the default Config.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

func WithEmitter(e *events.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithBreakers shares a breaker registry between components so every
// worker calling the same adapter goes through the same breaker.
func WithBreakers(r *breaker.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.breakers = r
		}
	}
}

func WithValidator(v Validator) Option {
	return func(o *options) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithLimiter enables rate limiting. Without it every send is allowed.
func WithLimiter(l Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func WithTemplates(r Renderer) Option {
	return func(o *options) { o.templates = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// dbBreaker returns the repository breaker. Lookups that miss and rejected
// transitions are answers from a healthy store, not failures.
func dbBreaker(r *breaker.Registry) *breaker.Breaker {
	return r.Get(DBBreaker, breaker.WithFailurePredicate(isStoreFailure))
}

func isStoreFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, notification.ErrDuplicateID),
		errors.Is(err, notification.ErrDuplicateExternalID),
		errors.Is(err, notification.ErrInvalidTransition),
		errors.Is(err, notification.ErrAttemptsExhausted):
		return false
	}
	return true
}
