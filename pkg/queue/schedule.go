package queue

import (
	"context"
	"fmt"
	"time"
)

// Schedule determines when a periodic task, such as the stale-notification
// sweep, runs next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time { return from.Add(s.every) }

func (s intervalSchedule) String() string { return fmt.Sprintf("every %v", s.every) }

// Every runs at a fixed interval. Non-positive intervals default to a minute.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return intervalSchedule{every: d}
}

// RunPeriodic calls fn at each point of sched until ctx is done. Errors
// returned by fn are passed to onError and do not stop the loop.
func RunPeriodic(ctx context.Context, sched Schedule, fn func(context.Context) error, onError func(error)) error {
	for {
		now := time.Now()
		timer := time.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := fn(ctx); err != nil && onError != nil {
			onError(err)
		}
	}
}
