package ratelimiter_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/ratelimiter"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, clock *fakeClock, opts ...ratelimiter.Option) (*ratelimiter.Limiter, *ratelimiter.MemoryStore) {
	t.Helper()
	store := ratelimiter.NewMemoryStore(ratelimiter.WithStoreClock(clock.Now))
	t.Cleanup(store.Close)
	opts = append(opts, ratelimiter.WithClock(clock.Now))
	l, err := ratelimiter.New(store, ratelimiter.Config{MaxRequests: 3, Window: time.Minute}, opts...)
	require.NoError(t, err)
	return l, store
}

func TestLimiter_ExactlyNPerWindow(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l, _ := newLimiter(t, clock)
	ctx := context.Background()

	for i := range 3 {
		res, err := l.Check(ctx, "email", "u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	clock.Advance(20 * time.Second)
	res, err := l.Check(ctx, "email", "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 40*time.Second, res.RetryAfter)
	assert.Equal(t, 40, res.RetryAfterSeconds())

	clock.Advance(40 * time.Second)
	res, err = l.Check(ctx, "email", "u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window resets at the boundary")
}

func TestLimiter_RetryAfterRoundsUp(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l, _ := newLimiter(t, clock, ratelimiter.WithScope("sms", ratelimiter.Config{MaxRequests: 1, Window: time.Minute}))
	ctx := context.Background()

	_, err := l.Check(ctx, "sms", "u1")
	require.NoError(t, err)
	clock.Advance(59*time.Second + 500*time.Millisecond)

	res, err := l.Check(ctx, "sms", "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.RetryAfterSeconds())
}

func TestLimiter_ScopesAndActorsAreIndependent(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l, _ := newLimiter(t, clock, ratelimiter.WithScope("sms", ratelimiter.Config{MaxRequests: 1, Window: time.Hour}))
	ctx := context.Background()

	res, _ := l.Check(ctx, "sms", "u1")
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "sms", "u1")
	assert.False(t, res.Allowed)

	res, _ = l.Check(ctx, "sms", "u2")
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "email", "u1")
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)

	require.NoError(t, l.Reset(ctx, "sms", "u1"))
	res, _ = l.Check(ctx, "sms", "u1")
	assert.True(t, res.Allowed)
}

func TestLimiter_ConcurrentCallersShareCounter(t *testing.T) {
	t.Parallel()
	store := ratelimiter.NewMemoryStore()
	t.Cleanup(store.Close)
	l, err := ratelimiter.New(store, ratelimiter.Config{MaxRequests: 25, Window: time.Hour})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := l.Check(context.Background(), "sms", "u1"); err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(25), allowed.Load())
}

func TestLimiter_Purge(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l, store := newLimiter(t, clock)
	ctx := context.Background()

	_, _ = l.Check(ctx, "email", "a")
	_, _ = l.Check(ctx, "email", "b")
	assert.Equal(t, 2, store.Len())

	n, err := l.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Minute)
	n, err = l.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, store.Len())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := ratelimiter.New(ratelimiter.NewMemoryStore(), ratelimiter.Config{})
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)

	_, err = ratelimiter.New(ratelimiter.NewMemoryStore(),
		ratelimiter.Config{MaxRequests: 1, Window: time.Second},
		ratelimiter.WithScope("sms", ratelimiter.Config{MaxRequests: 1}),
	)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
}

func TestChannelConfig(t *testing.T) {
	t.Parallel()
	cfg := ratelimiter.DefaultChannelConfig()
	l, err := ratelimiter.New(ratelimiter.NewMemoryStore(), cfg.Default(), cfg.Options()...)
	require.NoError(t, err)

	assert.Less(t, l.ConfigFor("sms").MaxRequests, l.ConfigFor("email").MaxRequests)
	assert.Equal(t, cfg.DefaultMax, l.ConfigFor("push").MaxRequests)
}
