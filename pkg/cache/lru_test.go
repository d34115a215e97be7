package cache_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/cache"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLRU_Basic(t *testing.T) {
	t.Parallel()

	c := cache.New[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Put("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Len())

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	var evicted []string
	c := cache.New(2, cache.WithEvictCallback(func(k string, _ int) { evicted = append(evicted, k) }))

	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, evicted)

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Len(t, evicted, 3)
}

func TestLRU_TTL(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New(10,
		cache.WithTTL[string, string](time.Minute),
		cache.WithClock[string, string](clk.now),
	)

	c.Put("x", "1")
	c.Put("y", "2")
	clk.advance(30 * time.Second)
	c.Put("y", "3")

	v, ok := c.Get("x")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	clk.advance(30 * time.Second)
	_, ok = c.Get("x")
	assert.False(t, ok)

	v, ok = c.Get("y")
	require.True(t, ok)
	assert.Equal(t, "3", v)

	clk.advance(time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Zero(t, c.Len())
}

func TestLRU_RemoveFunc(t *testing.T) {
	t.Parallel()

	c := cache.New[string, int](10)
	c.Put("welcome:en", 1)
	c.Put("welcome:fr", 2)
	c.Put("reset:en", 3)

	n := c.RemoveFunc(func(k string) bool { return strings.HasPrefix(k, "welcome:") })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_Concurrent(t *testing.T) {
	t.Parallel()

	c := cache.New[int, int](50)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				c.Put(i*1000+j, j)
				_, _ = c.Get(j)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { cache.New[string, int](0) })
}
