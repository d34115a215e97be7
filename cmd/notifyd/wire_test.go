package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

func TestStores_RedisKeyLayout(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var s settings
	s.Redis.KeyPrefix = "nq"
	s.Queue.KeepCompleted = 10
	s.Queue.KeepDead = 10

	c := &components{log: logger.Discard()}
	storage, store := c.stores(rdb, s)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, storage.Add(ctx, &queue.Job{
		ID:          "n-1",
		Queue:       "sms",
		Payload:     json.RawMessage(`{}`),
		MaxAttempts: 1,
		State:       queue.StateWaiting,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	_, _, err := store.Increment(ctx, "sms:+33612345678", time.Minute)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"nq:job:n-1",
		"nq:q:sms:waiting",
		"nq:rl:sms:+33612345678",
	}, mr.Keys())
}

func TestStores_InMemoryWithoutRedis(t *testing.T) {
	t.Parallel()

	c := &components{log: logger.Discard()}
	storage, store := c.stores(nil, settings{})
	t.Cleanup(func() { _ = c.Close() })

	assert.IsType(t, &queue.MemoryStorage{}, storage)
	assert.NotNil(t, store)
}
