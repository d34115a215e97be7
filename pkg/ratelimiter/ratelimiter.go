package ratelimiter

import (
	"context"
	"errors"
	"time"
)

// Limiter enforces fixed-window quotas per scope (channel) and actor.
// Counters are shared by every caller using the same store, so a quota holds
// across worker goroutines and, with RedisStore, across processes.
type Limiter struct {
	store    Store
	defaults Config
	scopes   map[string]Config
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithScope sets the quota for one scope, overriding the default.
func WithScope(scope string, cfg Config) Option {
	return func(l *Limiter) { l.scopes[scope] = cfg }
}

// WithClock overrides the time source used to compute RetryAfter.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New validates every quota and returns a limiter backed by store.
func New(store Store, defaults Config, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		store:    store,
		defaults: defaults,
		scopes:   make(map[string]Config),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := defaults.validate(); err != nil {
		return nil, err
	}
	for _, cfg := range l.scopes {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Key builds the composite counter key.
func Key(scope, actor string) string {
	return scope + ":" + actor
}

// ConfigFor returns the quota applied to scope.
func (l *Limiter) ConfigFor(scope string) Config {
	if cfg, ok := l.scopes[scope]; ok {
		return cfg
	}
	return l.defaults
}

// Check counts one request for (scope, actor). Exactly MaxRequests calls per
// window are allowed; later calls get Allowed=false and a positive RetryAfter.
func (l *Limiter) Check(ctx context.Context, scope, actor string) (*Result, error) {
	cfg := l.ConfigFor(scope)
	key := Key(scope, actor)

	count, resetAt, err := l.store.Increment(ctx, key, cfg.Window)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	res := &Result{
		Key:       key,
		Allowed:   count <= cfg.MaxRequests,
		Limit:     cfg.MaxRequests,
		Remaining: max(cfg.MaxRequests-count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = max(resetAt.Sub(l.now()), time.Millisecond)
	}
	return res, nil
}

// Reset clears the window for (scope, actor).
func (l *Limiter) Reset(ctx context.Context, scope, actor string) error {
	return l.store.Reset(ctx, Key(scope, actor))
}

// Purge removes expired windows when the store needs it. It returns 0 for
// stores with native expiry.
func (l *Limiter) Purge(ctx context.Context) (int, error) {
	if p, ok := l.store.(Purger); ok {
		return p.PurgeExpired(ctx)
	}
	return 0, nil
}
