package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config controls when a circuit opens and how it recovers.
type Config struct {
	// FailureThreshold failures within Window open the circuit.
	FailureThreshold int `env:"FAILURE_THRESHOLD" envDefault:"5"`
	// Window is the rolling period failures are counted over. Zero counts
	// consecutive failures instead, reset by any success.
	Window time.Duration `env:"WINDOW" envDefault:"1m"`
	// Cooldown is how long the circuit stays open before allowing trials.
	Cooldown time.Duration `env:"COOLDOWN" envDefault:"30s"`
	// HalfOpenMaxCalls bounds concurrent trial calls in half-open state.
	HalfOpenMaxCalls int `env:"HALF_OPEN_MAX_CALLS" envDefault:"1"`
	// SuccessThreshold successful trials close the circuit.
	SuccessThreshold int `env:"SUCCESS_THRESHOLD" envDefault:"1"`
	// CallTimeout bounds each wrapped call; zero disables it.
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
		CallTimeout:      10 * time.Second,
	}
}

func (c Config) normalize() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	return c
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithObserver registers a transition hook.
func WithObserver(o Observer) Option {
	return func(b *Breaker) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithFailurePredicate decides which errors count against the circuit.
// By default every non-nil error does. Adapters use it to ignore terminal
// errors such as an invalid recipient, which say nothing about provider health.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

// WithLogger logs every transition at warn level.
func WithLogger(log *slog.Logger) Option {
	return func(b *Breaker) {
		if log == nil {
			return
		}
		b.observers = append(b.observers, func(t Transition) {
			log.LogAttrs(context.Background(), slog.LevelWarn, "circuit breaker state changed",
				slog.String("breaker", t.Name),
				slog.String("from", t.From.String()),
				slog.String("to", t.To.String()),
				slog.String("reason", t.Reason),
			)
		})
	}
}

// Breaker is a circuit breaker shared by every caller of one dependency.
// All counters and state changes happen under one mutex, so two workers
// failing at once cannot both open the circuit.
type Breaker struct {
	name      string
	cfg       Config
	now       func() time.Time
	isFailure func(error) bool
	observers []Observer

	mu           sync.Mutex
	state        State
	generation   uint64
	failures     []time.Time
	consecutive  int
	openedAt     time.Time
	trialsActive int
	trialSuccess int

	calls         int64
	successes     int64
	failed        int64
	shortCircuits int64
	totalLatency  time.Duration
	lastError     string
	lastErrorAt   time.Time
	lastSuccessAt time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		cfg:       cfg.normalize(),
		now:       time.Now,
		isFailure: func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, resolving an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	t := b.refresh(b.now())
	s := b.state
	b.mu.Unlock()
	b.notify(t)
	return s
}

// RetryIn returns how long an open circuit keeps rejecting calls. It is
// zero when the circuit is closed or half-open.
func (b *Breaker) RetryIn() time.Duration {
	b.mu.Lock()
	now := b.now()
	t := b.refresh(now)
	var d time.Duration
	if b.state == StateOpen {
		d = b.openedAt.Add(b.cfg.Cooldown).Sub(now)
	}
	b.mu.Unlock()
	b.notify(t)
	return max(d, 0)
}

// Execute runs fn through the breaker. Short-circuited calls return an error
// matching ErrOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Result is the outcome of Call.
type Result[T any] struct {
	Success        bool
	Value          T
	Err            error
	ShortCircuited bool
	Duration       time.Duration
}

// Call runs fn through b and returns the typed value with the outcome.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	r := Do(ctx, b, fn)
	return r.Value, r.Err
}

// Do is Call returning the full Result.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) Result[T] {
	var res Result[T]

	gen, err := b.before()
	if err != nil {
		res.Err = err
		res.ShortCircuited = true
		return res
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	start := b.now()
	defer func() {
		// A panicking call still releases its half-open slot.
		if p := recover(); p != nil {
			b.after(gen, fmt.Errorf("breaker %s: panic: %v", b.name, p), b.now().Sub(start))
			panic(p)
		}
	}()

	res.Value, res.Err = fn(callCtx)
	res.Duration = b.now().Sub(start)
	res.Success = res.Err == nil

	b.after(gen, res.Err, res.Duration)
	return res
}

// Reset forces the circuit closed and clears failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	t := b.setState(StateClosed, "manual reset", b.now())
	b.mu.Unlock()
	b.notify(t)
}

// Stats returns a snapshot for health checks.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	s := Stats{
		Name:           b.name,
		State:          b.state.String(),
		Calls:          b.calls,
		Successes:      b.successes,
		Failures:       b.failed,
		ShortCircuits:  b.shortCircuits,
		WindowFailures: b.windowFailures(now),
		SuccessRate:    1,
		LastError:      b.lastError,
		LastErrorAt:    b.lastErrorAt,
		LastSuccessAt:  b.lastSuccessAt,
		OpenedAt:       b.openedAt,
	}
	if done := b.successes + b.failed; done > 0 {
		s.SuccessRate = float64(b.successes) / float64(done)
		s.AverageResponseTime = b.totalLatency / time.Duration(done)
	}
	return s
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	now := b.now()
	t := b.refresh(now)

	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.trialsActive >= b.cfg.HalfOpenMaxCalls {
			err = ErrTooManyTrials
		} else {
			b.trialsActive++
		}
	}
	if err != nil {
		b.shortCircuits++
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(t)
	return gen, err
}

func (b *Breaker) after(gen uint64, callErr error, d time.Duration) {
	b.mu.Lock()
	now := b.now()
	failed := callErr != nil && b.isFailure(callErr)

	b.calls++
	b.totalLatency += d
	if failed {
		b.failed++
		b.lastError = callErr.Error()
		b.lastErrorAt = now
	} else {
		b.successes++
		b.lastSuccessAt = now
	}

	var t *Transition
	// Outcomes of calls admitted under an earlier state only feed the stats.
	if gen == b.generation {
		switch b.state {
		case StateClosed:
			t = b.onClosedResult(failed, now)
		case StateHalfOpen:
			b.trialsActive = max(b.trialsActive-1, 0)
			if failed {
				t = b.setState(StateOpen, "half-open trial failed: "+callErr.Error(), now)
			} else {
				b.trialSuccess++
				if b.trialSuccess >= b.cfg.SuccessThreshold {
					t = b.setState(StateClosed, "half-open trial succeeded", now)
				}
			}
		}
	}
	b.mu.Unlock()
	b.notify(t)
}

func (b *Breaker) onClosedResult(failed bool, now time.Time) *Transition {
	if !failed {
		b.consecutive = 0
		return nil
	}
	b.consecutive++
	if b.cfg.Window > 0 {
		b.failures = append(b.failures, now)
	}
	if n := b.windowFailures(now); n >= b.cfg.FailureThreshold {
		return b.setState(StateOpen, fmt.Sprintf("%d failures reached threshold %d", n, b.cfg.FailureThreshold), now)
	}
	return nil
}

// windowFailures prunes and counts failures inside the rolling window.
func (b *Breaker) windowFailures(now time.Time) int {
	if b.cfg.Window <= 0 {
		return b.consecutive
	}
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	b.failures = b.failures[i:]
	return len(b.failures)
}

// refresh moves OPEN to HALF_OPEN once the cooldown has elapsed.
func (b *Breaker) refresh(now time.Time) *Transition {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.cfg.Cooldown)) {
		return b.setState(StateHalfOpen, "cooldown elapsed", now)
	}
	return nil
}

func (b *Breaker) setState(to State, reason string, now time.Time) *Transition {
	from := b.state
	b.state = to
	b.generation++
	b.trialsActive = 0
	b.trialSuccess = 0

	switch to {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.failures = b.failures[:0]
		b.consecutive = 0
		b.openedAt = time.Time{}
	}
	if from == to {
		return nil
	}
	return &Transition{Name: b.name, From: from, To: to, Reason: reason, At: now}
}

func (b *Breaker) notify(t *Transition) {
	if t == nil {
		return
	}
	for _, o := range b.observers {
		o(*t)
	}
}
