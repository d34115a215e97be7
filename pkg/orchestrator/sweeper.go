package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

// Sweeper runs the periodic maintenance of the notification store.
type Sweeper struct {
	repo   notification.Repository
	queue  JobQueue
	purger Purger
	db     *breaker.Breaker
	options
}

// NewSweeper creates a Sweeper. purger may be nil when the rate limiter
// store expires windows on its own.
func NewSweeper(repo notification.Repository, q JobQueue, purger Purger, opts ...Option) (*Sweeper, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if q == nil {
		return nil, ErrQueueNil
	}
	s := &Sweeper{repo: repo, queue: q, purger: purger, options: applyOptions(opts)}
	s.db = dbBreaker(s.breakers)
	return s, nil
}

// Run starts every sweep on its interval and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.every(ctx, g, "expire", s.cfg.ExpireInterval, s.ExpireDue)
	s.every(ctx, g, "scheduled", s.cfg.ScheduledInterval, s.EnqueueReady)
	s.every(ctx, g, "recover", s.cfg.RecoverInterval, s.Recover)
	s.every(ctx, g, "cleanup", s.cfg.CleanupInterval, s.Cleanup)
	if s.purger != nil {
		s.every(ctx, g, "ratelimit_purge", s.cfg.PurgeInterval, s.purger.Purge)
	}
	return g.Wait()
}

func (s *Sweeper) every(ctx context.Context, g *errgroup.Group, name string, interval time.Duration, fn func(context.Context) (int, error)) {
	log := s.log.With(logger.Component("sweeper"), slog.String("sweep", name))
	g.Go(func() error {
		return queue.RunPeriodic(ctx, queue.Every(interval), func(ctx context.Context) error {
			n, err := fn(ctx)
			if n > 0 {
				log.LogAttrs(ctx, slog.LevelInfo, "sweep done", slog.Int("affected", n))
			}
			return err
		}, func(err error) {
			log.LogAttrs(ctx, slog.LevelWarn, "sweep failed", logger.Error(err))
		})
	})
}

// ExpireDue marks notifications past their expiry as EXPIRED and drops
// their pending jobs.
func (s *Sweeper) ExpireDue(ctx context.Context) (int, error) {
	list, err := breaker.Call(ctx, s.db, func(ctx context.Context) ([]*notification.Notification, error) {
		return s.repo.FindExpired(ctx, s.now(), s.cfg.SweepBatch)
	})
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, n := range list {
		if _, err := s.queue.Remove(ctx, n.ID); errors.Is(err, queue.ErrJobActive) {
			continue
		}
		expired, err := s.repo.MarkAsExpired(ctx, n.ID)
		if err != nil {
			if !notification.IsInvalidTransition(err) {
				errs = append(errs, err)
			}
			continue
		}
		count++
		s.metrics.RecordStatus(expired.Channel.String(), string(expired.Status))
		_ = s.emitter.Emit(ctx, events.New(events.NotificationExpired, expired, nil))
	}
	return count, errors.Join(errs...)
}

// EnqueueReady enqueues SCHEDULED notifications whose time has come but
// whose job is gone, for example after the queue store was flushed.
func (s *Sweeper) EnqueueReady(ctx context.Context) (int, error) {
	now := s.now()
	list, err := breaker.Call(ctx, s.db, func(ctx context.Context) ([]*notification.Notification, error) {
		return s.repo.FindScheduledReady(ctx, now, s.cfg.SweepBatch)
	})
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, n := range list {
		ok, err := s.reenqueue(ctx, n)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// Recover re-enqueues undelivered notifications that have not moved for
// RecoverAfter and whose job is gone or finished. This covers rows left
// behind when a job was buried while the store was unreachable, or lost
// with the queue store.
func (s *Sweeper) Recover(ctx context.Context) (int, error) {
	if s.cfg.RecoverAfter <= 0 {
		return 0, nil
	}
	list, err := breaker.Call(ctx, s.db, func(ctx context.Context) ([]*notification.Notification, error) {
		return s.repo.List(ctx, notification.Filter{
			Statuses:      []notification.Status{notification.StatusPending, notification.StatusRetrying, notification.StatusSending},
			UpdatedBefore: s.now().Add(-s.cfg.RecoverAfter),
			Limit:         s.cfg.SweepBatch,
		})
	})
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, n := range list {
		ok, err := s.reenqueue(ctx, n)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			count++
			s.log.LogAttrs(ctx, slog.LevelWarn, "orphaned notification re-enqueued",
				logger.NotificationID(n.ID),
				logger.Status(string(n.Status)),
			)
		}
	}
	return count, errors.Join(errs...)
}

// reenqueue adds a job for n unless a live one already exists.
func (s *Sweeper) reenqueue(ctx context.Context, n *notification.Notification) (bool, error) {
	j, err := s.queue.Get(ctx, n.ID)
	switch {
	case err == nil && j.State != queue.StateCompleted && j.State != queue.StateDead:
		return false, nil
	case err != nil && !errors.Is(err, queue.ErrJobNotFound):
		return false, fmt.Errorf("lookup job %s: %w", n.ID, err)
	}
	prio := n.Priority.QueuePriority()
	_, err = s.queue.Enqueue(ctx, n.Channel.Queue(), Payload{Notification: n, QueuePriority: prio},
		queue.WithJobID(n.ID),
		queue.WithName(JobName),
		queue.WithPriority(prio),
		queue.WithMaxAttempts(n.MaxAttempts),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", n.ID, err)
	}
	return true, nil
}

// Cleanup deletes final notifications older than the retention window.
func (s *Sweeper) Cleanup(ctx context.Context) (int, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.Retention)
	return breaker.Call(ctx, s.db, func(ctx context.Context) (int, error) {
		return s.repo.DeleteOlderThan(ctx, cutoff, notification.RetentionStatuses...)
	})
}
