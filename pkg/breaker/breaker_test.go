package breaker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
)

var errProvider = errors.New("provider down")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(cfg breaker.Config, opts ...breaker.Option) (*breaker.Breaker, *clock) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append(opts, breaker.WithClock(c.Now))
	return breaker.New("sms", cfg, opts...), c
}

func fail(ctx context.Context) error { return errProvider }
func ok(ctx context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newBreaker(breaker.Config{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for range 3 {
		assert.ErrorIs(t, b.Execute(ctx, fail), errProvider)
	}
	assert.Equal(t, breaker.StateOpen, b.State())

	var invoked bool
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.True(t, breaker.IsShortCircuit(err))
	assert.False(t, invoked, "open circuit must not call the function")
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	t.Parallel()
	b, _ := newBreaker(breaker.Config{FailureThreshold: 2})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_RollingWindow(t *testing.T) {
	t.Parallel()
	b, c := newBreaker(breaker.Config{FailureThreshold: 3, Window: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	c.Advance(61 * time.Second)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, breaker.StateClosed, b.State(), "old failures left the window")

	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	t.Parallel()
	b, c := newBreaker(breaker.Config{FailureThreshold: 1, Cooldown: 30 * time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, ok), breaker.ErrOpen)

	c.Advance(time.Second)
	assert.Equal(t, breaker.StateHalfOpen, b.State())

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()
	<-trialStarted

	err := b.Execute(ctx, ok)
	assert.ErrorIs(t, err, breaker.ErrTooManyTrials)
	assert.ErrorIs(t, err, breaker.ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	t.Parallel()
	b, c := newBreaker(breaker.Config{FailureThreshold: 1, Cooldown: 10 * time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.Advance(10 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, fail), errProvider)
	assert.Equal(t, breaker.StateOpen, b.State())

	c.Advance(5 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, ok), breaker.ErrOpen, "cooldown restarts on reopen")
}

func TestBreaker_RetryIn(t *testing.T) {
	t.Parallel()
	b, c := newBreaker(breaker.Config{FailureThreshold: 1, Cooldown: 30 * time.Second})
	ctx := context.Background()

	assert.Zero(t, b.RetryIn())

	_ = b.Execute(ctx, fail)
	assert.Equal(t, 30*time.Second, b.RetryIn())

	c.Advance(20 * time.Second)
	assert.Equal(t, 10*time.Second, b.RetryIn())

	c.Advance(10 * time.Second)
	assert.Zero(t, b.RetryIn())
	assert.Equal(t, breaker.StateHalfOpen, b.State())
}

func TestBreaker_Observer(t *testing.T) {
	t.Parallel()
	var (
		mu          sync.Mutex
		transitions []breaker.Transition
	)
	b, c := newBreaker(breaker.Config{FailureThreshold: 1, Cooldown: time.Second},
		breaker.WithObserver(func(tr breaker.Transition) {
			mu.Lock()
			transitions = append(transitions, tr)
			mu.Unlock()
		}))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.Advance(time.Second)
	_ = b.Execute(ctx, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)
	assert.Equal(t, breaker.StateClosed, transitions[0].From)
	assert.Equal(t, breaker.StateOpen, transitions[0].To)
	assert.Equal(t, breaker.StateHalfOpen, transitions[1].To)
	assert.Equal(t, "cooldown elapsed", transitions[1].Reason)
	assert.Equal(t, breaker.StateClosed, transitions[2].To)
	assert.Equal(t, "sms", transitions[2].Name)
}

func TestBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	t.Parallel()
	var opened atomic.Int32
	b := breaker.New("email", breaker.Config{FailureThreshold: 5, Cooldown: time.Hour},
		breaker.WithObserver(func(tr breaker.Transition) {
			if tr.To == breaker.StateOpen {
				opened.Add(1)
			}
		}))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), fail)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	st := b.Stats()
	assert.Equal(t, int64(50), st.Calls+st.ShortCircuits)
}

func TestBreaker_FailurePredicate(t *testing.T) {
	t.Parallel()
	errTerminal := errors.New("invalid recipient")
	b, _ := newBreaker(breaker.Config{FailureThreshold: 1},
		breaker.WithFailurePredicate(func(err error) bool { return !errors.Is(err, errTerminal) }))

	err := b.Execute(context.Background(), func(context.Context) error { return errTerminal })
	assert.ErrorIs(t, err, errTerminal)
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_CallTimeout(t *testing.T) {
	t.Parallel()
	b := breaker.New("whatsapp", breaker.Config{FailureThreshold: 1, CallTimeout: 10 * time.Millisecond})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestCallAndStats(t *testing.T) {
	t.Parallel()
	b, c := newBreaker(breaker.Config{FailureThreshold: 10})
	ctx := context.Background()

	v, err := breaker.Call(ctx, b, func(context.Context) (string, error) {
		c.Advance(100 * time.Millisecond)
		return "msg-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", v)

	res := breaker.Do(ctx, b, func(context.Context) (int, error) {
		c.Advance(300 * time.Millisecond)
		return 0, errProvider
	})
	assert.False(t, res.Success)
	assert.False(t, res.ShortCircuited)
	assert.Equal(t, 300*time.Millisecond, res.Duration)

	st := b.Stats()
	assert.Equal(t, "CLOSED", st.State)
	assert.InDelta(t, 0.5, st.SuccessRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, st.AverageResponseTime)
	assert.Equal(t, errProvider.Error(), st.LastError)
	assert.False(t, st.LastSuccessAt.IsZero())
}

func TestBreaker_PanicReleasesTrial(t *testing.T) {
	t.Parallel()
	b, c := newBreaker(breaker.Config{FailureThreshold: 1, Cooldown: time.Second})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	c.Advance(time.Second)
	assert.Panics(t, func() {
		_ = b.Execute(ctx, func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := breaker.NewRegistry(breaker.DefaultConfig())
	r.Configure("sms", breaker.Config{FailureThreshold: 1})

	sms := r.Get("sms")
	assert.Same(t, sms, r.Get("sms"))
	_ = sms.Execute(context.Background(), fail)
	assert.Equal(t, breaker.StateOpen, sms.State())

	email := r.Get("email")
	_ = email.Execute(context.Background(), fail)
	assert.Equal(t, breaker.StateClosed, email.State())

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "email", stats[0].Name)
	assert.Equal(t, "sms", stats[1].Name)
}
