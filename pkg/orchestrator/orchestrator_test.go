package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/orchestrator"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/provider"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/ratelimiter"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/template"
)

// stubAdapter replays queued errors, then accepts every message.
type stubAdapter struct {
	channel notification.Channel

	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *stubAdapter) Name() string                  { return "stub" }
func (s *stubAdapter) Channel() notification.Channel { return s.channel }

func (s *stubAdapter) Send(_ context.Context, env provider.Envelope) (notification.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return notification.Receipt{}, err
		}
	}
	cost := 0.07
	return notification.Receipt{ExternalID: fmt.Sprintf("ext-%s-%d", env.NotificationID, s.calls), Cost: &cost}, nil
}

func (s *stubAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// flakyRepo fails every insert.
type flakyRepo struct {
	*notification.MemoryRepository
}

func (flakyRepo) Create(context.Context, *notification.Notification) error {
	return errors.New("connection refused")
}

type env struct {
	repo  *notification.MemoryRepository
	queue *queue.Queue
	orch  *orchestrator.Orchestrator
	disp  *orchestrator.Dispatcher
	sms   *stubAdapter
	email *stubAdapter
	bus   *events.MemoryBus
}

func setup(t *testing.T, opts ...orchestrator.Option) *env {
	t.Helper()
	e := &env{
		repo:  notification.NewMemoryRepository(),
		sms:   &stubAdapter{channel: notification.ChannelSMS},
		email: &stubAdapter{channel: notification.ChannelEmail},
		bus:   events.NewMemoryBus(64),
	}
	t.Cleanup(func() { _ = e.bus.Close() })

	q, err := queue.New(queue.NewMemoryStorage(), queue.WithLogger(logger.Discard()))
	require.NoError(t, err)
	e.queue = q

	base := []orchestrator.Option{
		orchestrator.WithLogger(logger.Discard()),
		orchestrator.WithEmitter(events.NewEmitter([]events.Publisher{e.bus})),
	}
	opts = append(base, opts...)

	e.orch, err = orchestrator.New(e.repo, q, opts...)
	require.NoError(t, err)
	e.disp, err = orchestrator.NewDispatcher(e.repo, provider.NewRegistry(e.sms, e.email), opts...)
	require.NoError(t, err)
	return e
}

func (e *env) process(t *testing.T, id string) error {
	t.Helper()
	job, err := e.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return e.disp.Process(context.Background(), job)
}

func smsMessage(content string) notification.Message {
	return notification.Message{
		Channel:   notification.ChannelSMS,
		Recipient: "+33612345678",
		Content:   content,
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	q, err := queue.New(queue.NewMemoryStorage())
	require.NoError(t, err)

	_, err = orchestrator.New(nil, q)
	assert.ErrorIs(t, err, orchestrator.ErrRepositoryNil)
	_, err = orchestrator.New(notification.NewMemoryRepository(), nil)
	assert.ErrorIs(t, err, orchestrator.ErrQueueNil)
	_, err = orchestrator.NewDispatcher(notification.NewMemoryRepository(), nil)
	assert.ErrorIs(t, err, orchestrator.ErrAdaptersNil)
}

func TestSend_LongSMSIsAcceptedWithWarning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, smsMessage(strings.Repeat("A", 170)))
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Enqueued)
	assert.True(t, res.Persisted)
	assert.Equal(t, res.ID, res.JobID)
	assert.NotEmpty(t, res.Warnings)

	st, err := e.queue.Stats(ctx, notification.ChannelSMS.Queue())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Waiting)

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, n.Status)

	job, err := e.queue.Get(ctx, res.ID)
	require.NoError(t, err)
	var p orchestrator.Payload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, queue.PriorityDefault, p.QueuePriority)
	assert.Equal(t, res.ID, p.Notification.ID)
}

func TestSend_InvalidEmailHasNoSideEffects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, notification.Message{
		Channel:   notification.ChannelEmail,
		Recipient: "bad-email",
		Subject:   "Hello",
		Content:   "Body",
	})
	assert.False(t, res.Success)
	assert.False(t, res.Enqueued)
	assert.ErrorIs(t, res.Err, notification.ErrValidation)
	assert.NotEmpty(t, res.Error)

	st, err := e.queue.Stats(ctx, notification.ChannelEmail.Queue())
	require.NoError(t, err)
	assert.Zero(t, st.Waiting)

	_, err = e.repo.Get(ctx, res.ID)
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestSend_UnknownChannel(t *testing.T) {
	t.Parallel()

	e := setup(t)
	res := e.orch.Send(context.Background(), notification.Message{Channel: "fax", Recipient: "x", Content: "y"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, notification.ErrInvalidChannel)
}

func TestSend_RateLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, err := ratelimiter.New(ratelimiter.NewMemoryStore(),
		ratelimiter.Config{MaxRequests: 100, Window: time.Hour},
		ratelimiter.WithScope("sms", ratelimiter.Config{MaxRequests: 2, Window: time.Hour}),
	)
	require.NoError(t, err)
	e := setup(t, orchestrator.WithLimiter(limiter))

	for range 2 {
		res := e.orch.Send(ctx, smsMessage("hello"))
		require.True(t, res.Success, res.Error)
	}

	res := e.orch.Send(ctx, smsMessage("hello"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, notification.ErrRateLimited)
	assert.Positive(t, res.RetryAfterSeconds)

	var rl *notification.RateLimitError
	require.ErrorAs(t, res.Err, &rl)
	assert.Equal(t, "sms:+33612345678", rl.Key)

	st, err := e.queue.Stats(ctx, notification.ChannelSMS.Queue())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Waiting)

	other := smsMessage("hello")
	other.ActorID = "booking-42"
	assert.True(t, e.orch.Send(ctx, other).Success, "quota is per actor")
}

func TestSend_Template(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, err := template.NewMemorySource(template.Template{
		ID:      "welcome",
		Locale:  "en",
		Subject: "Welcome {{.name}}",
		Body:    "<p>Hello {{.name}}</p>",
		Format:  template.FormatHTML,
	})
	require.NoError(t, err)
	svc, err := template.NewService(src, template.WithLogger(logger.Discard()))
	require.NoError(t, err)
	e := setup(t, orchestrator.WithTemplates(svc))

	res := e.orch.Send(ctx, notification.Message{
		Channel:      notification.ChannelEmail,
		Recipient:    "client@example.com",
		TemplateID:   "welcome",
		TemplateData: map[string]any{"name": "Awa"},
		Locale:       "en",
	})
	require.True(t, res.Success, res.Error)

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome Awa", n.Subject)
	assert.Equal(t, "<p>Hello Awa</p>", n.Content)

	require.NoError(t, e.process(t, res.ID))
	sent, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, sent.Status)

	missing := e.orch.Send(ctx, notification.Message{
		Channel:    notification.ChannelEmail,
		Recipient:  "client@example.com",
		TemplateID: "nope",
	})
	assert.False(t, missing.Success)
	assert.ErrorIs(t, missing.Err, notification.ErrTemplate)
	assert.False(t, missing.Enqueued)
}

func TestSend_TemplateWithoutService(t *testing.T) {
	t.Parallel()

	e := setup(t)
	res := e.orch.Send(context.Background(), notification.Message{
		Channel:    notification.ChannelEmail,
		Recipient:  "client@example.com",
		TemplateID: "welcome",
	})
	assert.ErrorIs(t, res.Err, orchestrator.ErrNoTemplates)
}

func TestSend_Scheduled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	at := time.Now().Add(2 * time.Hour)
	msg := smsMessage("later")
	msg.ScheduledAt = &at
	msg.Priority = notification.PriorityUrgent

	res := e.orch.Send(ctx, msg)
	require.True(t, res.Success, res.Error)

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusScheduled, n.Status)

	job, err := e.queue.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, job.State)
	assert.Equal(t, queue.PriorityUrgent, job.Priority)
	assert.WithinDuration(t, at, job.RunAt, time.Millisecond)

	// A worker picking the job moves it through PENDING.
	require.NoError(t, e.disp.Process(ctx, job))
	n, err = e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, n.Status)
}

func TestSend_PersistenceFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := notification.NewMemoryRepository()
	q, err := queue.New(queue.NewMemoryStorage(), queue.WithLogger(logger.Discard()))
	require.NoError(t, err)

	orch, err := orchestrator.New(flakyRepo{mem}, q, orchestrator.WithLogger(logger.Discard()))
	require.NoError(t, err)

	res := orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Enqueued)
	assert.False(t, res.Persisted)

	_, err = mem.Get(ctx, res.ID)
	require.ErrorIs(t, err, notification.ErrNotFound)

	// The worker rebuilds the row from the payload and delivers it.
	sms := &stubAdapter{channel: notification.ChannelSMS}
	disp, err := orchestrator.NewDispatcher(mem, provider.NewRegistry(sms), orchestrator.WithLogger(logger.Discard()))
	require.NoError(t, err)
	job, err := q.Get(ctx, res.ID)
	require.NoError(t, err)
	require.NoError(t, disp.Process(ctx, job))

	n, err := mem.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.Equal(t, 1, sms.Calls())
}

func TestDispatcher_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)
	e.sms.errs = []error{provider.Transient(errors.New("503"))}
	sub := e.bus.Subscribe(ctx, events.NotificationSent)

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success)

	err := e.process(t, res.ID)
	require.Error(t, err)
	n, gerr := e.repo.Get(ctx, res.ID)
	require.NoError(t, gerr)
	assert.Equal(t, notification.StatusRetrying, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.Contains(t, n.LastError, "503")

	require.NoError(t, e.process(t, res.ID))
	n, gerr = e.repo.Get(ctx, res.ID)
	require.NoError(t, gerr)
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.Equal(t, 2, n.Attempts)
	assert.NotEmpty(t, n.ExternalID)
	require.NotNil(t, n.Cost)

	select {
	case ev := <-sub.C():
		assert.Equal(t, res.ID, ev.NotificationID)
	case <-time.After(time.Second):
		t.Fatal("no sent event")
	}
}

func TestDispatcher_TerminalFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)
	e.sms.errs = []error{provider.Terminal(errors.New("invalid number"))}

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success)

	require.NoError(t, e.process(t, res.ID))
	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.NotNil(t, n.FailedAt)
}

func TestDispatcher_AttemptsExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)
	boom := provider.Transient(errors.New("timeout"))
	e.sms.errs = []error{boom, boom}

	msg := smsMessage("hello")
	msg.MaxAttempts = 2
	res := e.orch.Send(ctx, msg)
	require.True(t, res.Success)

	require.Error(t, e.process(t, res.ID))
	require.NoError(t, e.process(t, res.ID), "last attempt fails the row instead of retrying")

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Equal(t, 2, n.Attempts)
	assert.LessOrEqual(t, n.Attempts, n.MaxAttempts)

	// Further deliveries of the same job are no-ops.
	require.NoError(t, e.process(t, res.ID))
	assert.Equal(t, 2, e.sms.Calls())
}

func TestDispatcher_NoAdapter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, notification.Message{
		Channel:   notification.ChannelWhatsApp,
		Recipient: "+33612345678",
		Content:   "hi",
	})
	require.True(t, res.Success)
	require.NoError(t, e.process(t, res.ID))

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Contains(t, n.LastError, "no adapter")
}

func TestDispatcher_ExpiredBeforeDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	past := time.Now().Add(-time.Minute)
	msg := smsMessage("too late")
	msg.ExpiresAt = &past
	res := e.orch.Send(ctx, msg)
	require.True(t, res.Success)

	require.NoError(t, e.process(t, res.ID))
	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusExpired, n.Status)
	assert.Zero(t, e.sms.Calls())
}

func TestDispatcher_InvalidPayload(t *testing.T) {
	t.Parallel()

	e := setup(t)
	err := e.disp.Process(context.Background(), &queue.Job{ID: "j", Queue: "sms", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidPayload)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success)

	n, err := e.orch.Cancel(ctx, res.ID, "booking cancelled")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusCancelled, n.Status)

	_, err = e.queue.Get(ctx, res.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	_, err = e.orch.Cancel(ctx, res.ID, "again")
	assert.ErrorIs(t, err, orchestrator.ErrNotCancellable)
}

func TestCancel_SentNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.NoError(t, e.process(t, res.ID))

	_, err := e.orch.Cancel(ctx, res.ID, "late")
	assert.ErrorIs(t, err, orchestrator.ErrNotCancellable)
}

func TestCancel_Unknown(t *testing.T) {
	t.Parallel()

	e := setup(t)
	_, err := e.orch.Cancel(context.Background(), "missing", "")
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)
	e.sms.errs = []error{provider.Terminal(errors.New("rejected"))}

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.NoError(t, e.process(t, res.ID))

	again, err := e.orch.Retry(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, again.Enqueued)

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, n.Status)
	assert.Zero(t, n.Attempts)

	require.NoError(t, e.process(t, res.ID))
	n, err = e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, n.Status)

	_, err = e.orch.Retry(ctx, res.ID)
	assert.True(t, notification.IsInvalidTransition(err))
}

// refusingQueue rejects new jobs once closed.
type refusingQueue struct {
	*queue.Queue
	closed bool
}

func (q *refusingQueue) Enqueue(ctx context.Context, name string, payload any, opts ...queue.EnqueueOption) (*queue.JobHandle, error) {
	if q.closed {
		return nil, errors.New("redis: connection pool timeout")
	}
	return q.Queue.Enqueue(ctx, name, payload, opts...)
}

func TestRetry_EnqueueFailureKeepsRowFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)
	e.sms.errs = []error{provider.Terminal(errors.New("rejected"))}

	rq := &refusingQueue{Queue: e.queue}
	orch, err := orchestrator.New(e.repo, rq, orchestrator.WithLogger(logger.Discard()))
	require.NoError(t, err)

	res := orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success, res.Error)
	require.NoError(t, e.process(t, res.ID))

	rq.closed = true
	_, err = orch.Retry(ctx, res.ID)
	require.Error(t, err)

	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Contains(t, n.LastError, "retry could not be enqueued")

	// Once the queue is back the row can be retried again.
	rq.closed = false
	again, err := orch.Retry(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, again.Enqueued)
	require.NoError(t, e.process(t, res.ID))
	n, err = e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, n.Status)
}

func TestDispatcher_OnDeadFailsUnsettledRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success, res.Error)
	job, err := e.queue.Get(ctx, res.ID)
	require.NoError(t, err)

	e.disp.OnDead(ctx, job, errors.New("db timeout"))
	n, err := e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Equal(t, "delivery job exhausted: db timeout", n.LastError)
	require.NotNil(t, n.FailedAt)

	// Final rows are left alone.
	e.disp.OnDead(ctx, job, errors.New("again"))
	n, err = e.repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "delivery job exhausted: db timeout", n.LastError)
}

func TestDispatcher_RetryingRowWithoutAttemptsIsFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	msg := smsMessage("hello")
	msg.ID = "worn-out"
	msg.MaxAttempts = 2
	n := notification.New(msg, time.Now())
	n.Status = notification.StatusRetrying
	n.Attempts = 2
	require.NoError(t, e.repo.Create(ctx, n))

	payload, err := json.Marshal(orchestrator.Payload{Notification: n})
	require.NoError(t, err)
	require.NoError(t, e.disp.Process(ctx, &queue.Job{ID: n.ID, Queue: "sms", Payload: payload}))

	got, err := e.repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Equal(t, "no attempts left", got.LastError)
	assert.Zero(t, e.sms.Calls())
}

func TestSendBulk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)

	msgs := []notification.Message{
		smsMessage("one"),
		smsMessage("two"),
		{Channel: notification.ChannelEmail, Recipient: "bad", Subject: "s", Content: "c"},
		smsMessage("four"),
		smsMessage("five"),
	}
	for i := range msgs {
		msgs[i].ID = fmt.Sprintf("bulk-%d", i)
	}

	results, err := e.orch.SendBulk(ctx, msgs, orchestrator.BulkOptions{BatchSize: 2, Delay: time.Millisecond})
	require.NoError(t, err)
	require.Len(t, results, len(msgs))

	for i, r := range results {
		assert.Equal(t, msgs[i].ID, r.ID)
		assert.Equal(t, i != 2, r.Success, "message %d", i)
	}

	_, err = e.orch.SendBulk(ctx, nil, orchestrator.BulkOptions{})
	assert.ErrorIs(t, err, orchestrator.ErrEmptyBatch)
}

func TestSendBulk_ContextCancelled(t *testing.T) {
	t.Parallel()

	e := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := e.orch.SendBulk(ctx, []notification.Message{smsMessage("a")}, orchestrator.BulkOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := setup(t)
	require.NoError(t, e.queue.RegisterWorker("sms", 1, e.disp))

	res := e.orch.Send(ctx, smsMessage("hello"))
	require.True(t, res.Success)

	h := e.orch.Health(ctx)
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, h.Queues["sms"].Waiting)
	require.NotEmpty(t, h.Breakers)
	assert.Equal(t, orchestrator.DBBreaker, h.Breakers[0].Name)
}
