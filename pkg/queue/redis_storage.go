package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// RedisStorage keeps jobs in Redis so they survive process restarts and can
// be shared by several daemons. Layout, for prefix p and queue q:
//
//	p:job:{id}        job JSON
//	p:q:{q}:waiting   ZSET scored by priority then run time
//	p:q:{q}:delayed   ZSET scored by run time (ms)
//	p:q:{q}:active    ZSET scored by lock expiry (ms)
//	p:q:{q}:completed LIST, oldest first
//	p:q:{q}:dead      LIST, oldest first
type RedisStorage struct {
	client    redis.UniversalClient
	prefix    string
	retention Retention
}

// RedisStorageOption configures a RedisStorage.
type RedisStorageOption func(*RedisStorage)

// WithRedisRetention bounds the completed and dead lists.
func WithRedisRetention(r Retention) RedisStorageOption {
	return func(s *RedisStorage) { s.retention = r }
}

// NewRedisStorage creates a storage namespaced under prefix.
func NewRedisStorage(client redis.UniversalClient, prefix string, opts ...RedisStorageOption) *RedisStorage {
	s := &RedisStorage{client: client, prefix: prefix, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStorage) Add(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}
	key := s.jobKey(job.ID)
	return s.transact(ctx, func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, job.ID)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return err
		}
		if existing != nil && existing.State == StateActive {
			return ErrJobActive
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if existing != nil {
				s.unlink(ctx, p, existing)
			}
			p.Set(ctx, key, data, 0)
			s.link(ctx, p, job)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStorage) Claim(ctx context.Context, queue, workerID string, lock time.Duration, now time.Time) (*Job, error) {
	if err := s.promote(ctx, queue, now); err != nil {
		return nil, fmt.Errorf("promote delayed jobs: %w", err)
	}
	if err := s.recoverExpired(ctx, queue, now); err != nil {
		return nil, fmt.Errorf("recover expired locks: %w", err)
	}

	waiting := s.queueKey(queue, StateWaiting)
	var claimed *Job
	err := s.transact(ctx, func(tx *redis.Tx) error {
		claimed = nil
		ids, err := tx.ZRange(ctx, waiting, 0, 0).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrNoJob
		}
		j, err := s.load(ctx, tx, ids[0])
		if errors.Is(err, ErrJobNotFound) {
			// Orphaned member; drop it and let the caller poll again.
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.ZRem(ctx, waiting, ids[0])
				return nil
			})
			if err != nil {
				return err
			}
			return ErrNoJob
		}
		if err != nil {
			return err
		}

		until := now.Add(lock)
		j.State = StateActive
		j.Attempts++
		j.LockedBy = workerID
		j.LockedUntil = &until
		j.UpdatedAt = now
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, waiting, j.ID)
			p.ZAdd(ctx, s.queueKey(queue, StateActive), redis.Z{Score: float64(until.UnixMilli()), Member: j.ID})
			p.Set(ctx, s.jobKey(j.ID), data, 0)
			return nil
		})
		if err == nil {
			claimed = j
		}
		return err
	}, waiting)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *RedisStorage) Complete(ctx context.Context, id string, now time.Time) error {
	var queue string
	err := s.finishActive(ctx, id, func(j *Job) {
		queue = j.Queue
		j.State = StateCompleted
		j.FinishedAt = &now
		j.UpdatedAt = now
	})
	if err != nil {
		return err
	}
	return s.trim(ctx, s.queueKey(queue, StateCompleted), s.retention.Completed)
}

func (s *RedisStorage) Retry(ctx context.Context, id string, runAt time.Time, errMsg string, now time.Time) error {
	return s.finishActive(ctx, id, func(j *Job) {
		j.State = StateDelayed
		j.RunAt = runAt
		j.LastError = errMsg
		j.UpdatedAt = now
	})
}

func (s *RedisStorage) Snooze(ctx context.Context, id string, runAt time.Time, reason string, now time.Time) error {
	return s.finishActive(ctx, id, func(j *Job) {
		j.State = StateDelayed
		j.RunAt = runAt
		j.LastError = reason
		j.UpdatedAt = now
		j.Attempts = max(j.Attempts-1, 0)
	})
}

func (s *RedisStorage) Bury(ctx context.Context, id, errMsg string, now time.Time) error {
	var queue string
	err := s.finishActive(ctx, id, func(j *Job) {
		queue = j.Queue
		j.State = StateDead
		j.LastError = errMsg
		j.FinishedAt = &now
		j.UpdatedAt = now
	})
	if err != nil {
		return err
	}
	return s.trim(ctx, s.queueKey(queue, StateDead), s.retention.Dead)
}

func (s *RedisStorage) Remove(ctx context.Context, id string) (bool, error) {
	key := s.jobKey(id)
	var removed bool
	err := s.transact(ctx, func(tx *redis.Tx) error {
		removed = false
		j, err := s.load(ctx, tx, id)
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if j.State == StateActive {
			return ErrJobActive
		}
		if !j.pending() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			s.unlink(ctx, p, j)
			p.Del(ctx, key)
			return nil
		})
		removed = err == nil
		return err
	}, key)
	return removed, err
}

func (s *RedisStorage) Requeue(ctx context.Context, id string, now time.Time) error {
	key := s.jobKey(id)
	return s.transact(ctx, func(tx *redis.Tx) error {
		j, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if j.State != StateDead {
			return ErrJobNotDead
		}
		old := *j
		j.State = StateWaiting
		j.Attempts = 0
		j.RunAt = now
		j.FinishedAt = nil
		j.UpdatedAt = now
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			s.unlink(ctx, p, &old)
			p.Set(ctx, key, data, 0)
			s.link(ctx, p, j)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStorage) Get(ctx context.Context, id string) (*Job, error) {
	return s.load(ctx, s.client, id)
}

func (s *RedisStorage) Jobs(ctx context.Context, queue string, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		states = []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateDead}
	}

	var ids []string
	for _, st := range states {
		key := s.queueKey(queue, st)
		var (
			members []string
			err     error
		)
		if isList(st) {
			members, err = s.client.LRange(ctx, key, 0, -1).Result()
		} else {
			members, err = s.client.ZRange(ctx, key, 0, -1).Result()
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var j Job
		if err := json.Unmarshal([]byte(str), &j); err != nil {
			continue
		}
		if slices.Contains(states, j.State) {
			jobs = append(jobs, &j)
		}
	}
	return jobs, nil
}

func (s *RedisStorage) Stats(ctx context.Context, queue string) (Stats, error) {
	var (
		waiting, delayed, active *redis.IntCmd
		completed, dead          *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.ZCard(ctx, s.queueKey(queue, StateWaiting))
		delayed = p.ZCard(ctx, s.queueKey(queue, StateDelayed))
		active = p.ZCard(ctx, s.queueKey(queue, StateActive))
		completed = p.LLen(ctx, s.queueKey(queue, StateCompleted))
		dead = p.LLen(ctx, s.queueKey(queue, StateDead))
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Queue:     queue,
		Waiting:   int(waiting.Val()),
		Delayed:   int(delayed.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Dead:      int(dead.Val()),
	}, nil
}

// promote moves delayed jobs whose run time has arrived into waiting.
func (s *RedisStorage) promote(ctx context.Context, queue string, now time.Time) error {
	delayed := s.queueKey(queue, StateDelayed)
	ids, err := s.client.ZRangeByScore(ctx, delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := s.transact(ctx, func(tx *redis.Tx) error {
			j, err := s.load(ctx, tx, id)
			if errors.Is(err, ErrJobNotFound) {
				return tx.ZRem(ctx, delayed, id).Err()
			}
			if err != nil {
				return err
			}
			if j.State != StateDelayed || j.RunAt.After(now) {
				return nil
			}
			old := *j
			j.State = StateWaiting
			return s.rewrite(ctx, tx, &old, j)
		}, s.jobKey(id))
		if err != nil {
			return err
		}
	}
	return nil
}

// recoverExpired returns jobs whose worker lock lapsed to waiting, or buries
// them once attempts are exhausted.
func (s *RedisStorage) recoverExpired(ctx context.Context, queue string, now time.Time) error {
	active := s.queueKey(queue, StateActive)
	ids, err := s.client.ZRangeByScore(ctx, active, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	buried := false
	for _, id := range ids {
		err := s.transact(ctx, func(tx *redis.Tx) error {
			j, err := s.load(ctx, tx, id)
			if errors.Is(err, ErrJobNotFound) {
				return tx.ZRem(ctx, active, id).Err()
			}
			if err != nil {
				return err
			}
			if j.State != StateActive || j.LockedUntil == nil || j.LockedUntil.After(now) {
				return nil
			}
			old := *j
			j.LockedBy, j.LockedUntil = "", nil
			j.LastError = "lock expired"
			j.UpdatedAt = now
			if j.Attempts >= j.MaxAttempts {
				j.State = StateDead
				j.FinishedAt = &now
				buried = true
			} else {
				j.State = StateWaiting
			}
			return s.rewrite(ctx, tx, &old, j)
		}, s.jobKey(id))
		if err != nil {
			return err
		}
	}
	if buried {
		return s.trim(ctx, s.queueKey(queue, StateDead), s.retention.Dead)
	}
	return nil
}

// finishActive applies mutate to an active job and relinks it.
func (s *RedisStorage) finishActive(ctx context.Context, id string, mutate func(*Job)) error {
	return s.transact(ctx, func(tx *redis.Tx) error {
		j, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if j.State != StateActive {
			return ErrJobNotFound
		}
		old := *j
		j.LockedBy, j.LockedUntil = "", nil
		mutate(j)
		return s.rewrite(ctx, tx, &old, j)
	}, s.jobKey(id))
}

func (s *RedisStorage) rewrite(ctx context.Context, tx *redis.Tx, old, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		s.unlink(ctx, p, old)
		p.Set(ctx, s.jobKey(j.ID), data, 0)
		s.link(ctx, p, j)
		return nil
	})
	return err
}

// trim drops the oldest list entries beyond keep together with their jobs.
func (s *RedisStorage) trim(ctx context.Context, list string, keep int) error {
	keep = max(keep, 0)
	return s.transact(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, list).Result()
		if err != nil {
			return err
		}
		drop := n - int64(keep)
		if drop <= 0 {
			return nil
		}
		ids, err := tx.LRange(ctx, list, 0, drop-1).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LTrim(ctx, list, drop, -1)
			for _, id := range ids {
				p.Del(ctx, s.jobKey(id))
			}
			return nil
		})
		return err
	}, list)
}

func (s *RedisStorage) link(ctx context.Context, p redis.Pipeliner, j *Job) {
	key := s.queueKey(j.Queue, j.State)
	switch j.State {
	case StateWaiting:
		p.ZAdd(ctx, key, redis.Z{Score: waitingScore(j), Member: j.ID})
	case StateDelayed:
		p.ZAdd(ctx, key, redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
	case StateActive:
		var until int64
		if j.LockedUntil != nil {
			until = j.LockedUntil.UnixMilli()
		}
		p.ZAdd(ctx, key, redis.Z{Score: float64(until), Member: j.ID})
	case StateCompleted, StateDead:
		p.RPush(ctx, key, j.ID)
	}
}

func (s *RedisStorage) unlink(ctx context.Context, p redis.Pipeliner, j *Job) {
	key := s.queueKey(j.Queue, j.State)
	if isList(j.State) {
		p.LRem(ctx, key, 0, j.ID)
		return
	}
	p.ZRem(ctx, key, j.ID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStorage) load(ctx context.Context, c getter, id string) (*Job, error) {
	data, err := c.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// transact runs fn under WATCH, retrying when a watched key changed.
func (s *RedisStorage) transact(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return redis.TxFailedErr
}

func (s *RedisStorage) jobKey(id string) string {
	return s.prefix + ":job:" + id
}

func (s *RedisStorage) queueKey(queue string, st State) string {
	return s.prefix + ":q:" + queue + ":" + string(st)
}

func isList(st State) bool {
	return st == StateCompleted || st == StateDead
}

// waitingScore orders by priority first and run time second. Run times in
// milliseconds stay below 1e13 for the foreseeable future.
func waitingScore(j *Job) float64 {
	return float64(j.Priority)*1e13 + float64(j.RunAt.UnixMilli())
}
