package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/orchestrator"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
)

type countingPurger struct{ calls int }

func (p *countingPurger) Purge(context.Context) (int, error) {
	p.calls++
	return 3, nil
}

func newSweeper(t *testing.T, e *env, now time.Time) *orchestrator.Sweeper {
	t.Helper()
	s, err := orchestrator.NewSweeper(e.repo, e.queue, nil,
		orchestrator.WithLogger(logger.Discard()),
		orchestrator.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return s
}

func TestSweeper_ExpireDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	expires := time.Now().Add(time.Hour)
	msg := smsMessage("soon stale")
	msg.ExpiresAt = &expires
	res := e.orch.Send(ctx, msg)
	require.True(t, res.Success)
	fresh := e.orch.Send(ctx, smsMessage("fine"))
	require.True(t, fresh.Success)

	n, err := newSweeper(t, e, time.Now().Add(2*time.Hour)).ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusExpired, got.Status)
	_, err = e.queue.Get(ctx, res.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	got, err = e.repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, got.Status)
}

func TestSweeper_EnqueueReady(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	at := time.Now().Add(time.Minute)
	msg := smsMessage("scheduled")
	msg.ScheduledAt = &at
	res := e.orch.Send(ctx, msg)
	require.True(t, res.Success)

	s := newSweeper(t, e, at.Add(time.Second))

	// The job still exists: nothing to do.
	n, err := s.EnqueueReady(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	removed, err := e.queue.Remove(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, removed)

	n, err = s.EnqueueReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := e.queue.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelSMS.Queue(), job.Queue)
}

func TestSweeper_Recover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, smsMessage("stuck"))
	require.True(t, res.Success, res.Error)
	sending := e.orch.Send(ctx, smsMessage("interrupted"))
	require.True(t, sending.Success, sending.Error)
	_, err := e.repo.MarkAsSending(ctx, sending.ID)
	require.NoError(t, err)

	s := newSweeper(t, e, time.Now().Add(20*time.Minute))

	// Live jobs are left alone.
	n, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []string{res.ID, sending.ID} {
		removed, err := e.queue.Remove(ctx, id)
		require.NoError(t, err)
		require.True(t, removed)
	}

	// Too recent to be considered orphaned.
	n, err = newSweeper(t, e, time.Now()).Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, e.process(t, res.ID))
	got, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, got.Status)

	// The interrupted send counts as one attempt before the resend.
	require.NoError(t, e.process(t, sending.ID))
	got, err = e.repo.Get(ctx, sending.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestSweeper_Cleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, smsMessage("done"))
	require.NoError(t, e.process(t, res.ID))
	pending := e.orch.Send(ctx, smsMessage("waiting"))
	require.True(t, pending.Success)

	n, err := newSweeper(t, e, time.Now()).Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "recent rows are kept")

	n, err = newSweeper(t, e, time.Now().Add(31*24*time.Hour)).Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.repo.Get(ctx, res.ID)
	assert.ErrorIs(t, err, notification.ErrNotFound)
	_, err = e.repo.Get(ctx, pending.ID)
	assert.NoError(t, err)
}

func TestSweeper_Run(t *testing.T) {
	t.Parallel()

	e := setup(t)
	purger := &countingPurger{}
	cfg := orchestrator.DefaultConfig()
	cfg.PurgeInterval = 5 * time.Millisecond

	s, err := orchestrator.NewSweeper(e.repo, e.queue, purger,
		orchestrator.WithConfig(cfg),
		orchestrator.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Positive(t, purger.calls)
}
