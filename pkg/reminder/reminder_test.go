package reminder_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/orchestrator"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/reminder"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/template"
)

func newScheduler(t *testing.T, now time.Time, opts ...reminder.Option) (*reminder.Scheduler, *queue.Queue) {
	t.Helper()
	q, err := queue.New(queue.NewMemoryStorage(), queue.WithLogger(logger.Discard()))
	require.NoError(t, err)
	base := []reminder.Option{
		reminder.WithLogger(logger.Discard()),
		reminder.WithClock(func() time.Time { return now }),
	}
	s, err := reminder.New(q, append(base, opts...)...)
	require.NoError(t, err)
	return s, q
}

func booking(id string, at time.Time) reminder.Booking {
	return reminder.Booking{
		ID:              id,
		Reference:       "EQ-" + id,
		CustomerName:    "Awa",
		CustomerPhone:   "+33612345678",
		CustomerEmail:   "awa@example.com",
		ServiceName:     "déménagement",
		ServiceDateTime: at.Format(time.RFC3339),
		Address:         "12 rue de la Paix, Paris",
		Locale:          "fr",
	}
}

func TestType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 168*time.Hour, reminder.Type7d.Offset())
	assert.Equal(t, queue.PriorityUrgent, reminder.Type1h.QueuePriority())
	assert.Equal(t, queue.PriorityHigh, reminder.Type24h.QueuePriority())
	assert.Equal(t, queue.PriorityDefault, reminder.Type7d.QueuePriority())
	assert.Equal(t, "reminder-b1-24h", reminder.JobID("b1", reminder.Type24h))
	assert.Equal(t, "booking-reminder-1h-sms", reminder.TemplateID(reminder.Type1h, notification.ChannelSMS))

	_, err := reminder.ParseType("2d")
	assert.ErrorIs(t, err, reminder.ErrUnknownType)
}

func TestSchedule_AllReminders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	service := now.Add(10 * 24 * time.Hour)
	s, q := newScheduler(t, now)

	got, err := s.Schedule(ctx, booking("b1", service))
	require.NoError(t, err)
	require.Len(t, got, 3)

	want := map[reminder.Type]time.Time{
		reminder.Type7d:  service.Add(-168 * time.Hour),
		reminder.Type24h: service.Add(-24 * time.Hour),
		reminder.Type1h:  service.Add(-time.Hour),
	}
	for _, r := range got {
		assert.True(t, want[r.Type].Equal(r.ScheduledFor), r.Type)
		assert.Equal(t, notification.ChannelSMS, r.Channel)

		job, err := q.Get(ctx, r.JobID)
		require.NoError(t, err)
		assert.Equal(t, reminder.QueueName, job.Queue)
		assert.Equal(t, queue.StateDelayed, job.State)
		assert.Equal(t, r.Type.QueuePriority(), job.Priority)
	}

	// Same booking again replaces the jobs.
	_, err = s.Schedule(ctx, booking("b1", service))
	require.NoError(t, err)
	st, err := q.Stats(ctx, reminder.QueueName)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Delayed)
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()

	opts, err := reminder.Config{Timezone: "UTC", SafetyMargin: 3 * time.Hour, Types: []string{"24h", "1h"}}.Options()
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	s, _ := newScheduler(t, now, opts...)

	got, err := s.Schedule(context.Background(), booking("cfg", now.Add(10*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, reminder.Type24h, got[0].Type)

	// The 1h reminder falls inside the margin.
	plan, err := s.Plan(booking("cfg", now.Add(3*time.Hour+30*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, plan)

	_, err = reminder.Config{Timezone: "UTC", Types: []string{"2h"}}.Options()
	assert.ErrorIs(t, err, reminder.ErrUnknownType)
	_, err = reminder.Config{Timezone: "Mars/Olympus"}.Options()
	assert.Error(t, err)
}

func TestSchedule_SkipsPastInstants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	s, _ := newScheduler(t, now)
	got, err := s.Schedule(ctx, booking("b2", now.Add(2*time.Hour)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, reminder.Type1h, got[0].Type)

	// The 1h reminder would fire within the safety margin.
	got, err = s.Schedule(ctx, booking("b3", now.Add(time.Hour+30*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSchedule_EmailFallback(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := newScheduler(t, now)

	b := booking("b4", now.Add(48*time.Hour))
	b.CustomerPhone = ""
	plan, err := s.Plan(b)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	for _, p := range plan {
		assert.Equal(t, notification.ChannelEmail, p.Channel)
		assert.Equal(t, "awa@example.com", p.Recipient)
		assert.Equal(t, reminder.TemplateID(p.Type, notification.ChannelEmail), p.TemplateID)
		assert.Equal(t, "EQ-b4", p.Vars["bookingReference"])
	}
}

func TestSchedule_Validation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s, _ := newScheduler(t, now)

	tests := []struct {
		name   string
		mutate func(*reminder.Booking)
		want   error
	}{
		{"missing id", func(b *reminder.Booking) { b.ID = "" }, reminder.ErrBookingID},
		{"unparsable date", func(b *reminder.Booking) { b.ServiceDateTime = "next tuesday" }, reminder.ErrInvalidDateTime},
		{"past date", func(b *reminder.Booking) { b.ServiceDateTime = now.Add(-time.Hour).Format(time.RFC3339) }, reminder.ErrServiceInPast},
		{"no contact", func(b *reminder.Booking) { b.CustomerPhone, b.CustomerEmail = "", "" }, reminder.ErrNoContact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := booking("b5", now.Add(72*time.Hour))
			tt.mutate(&b)
			_, err := s.Schedule(context.Background(), b)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSchedule_LocalDateTime(t *testing.T) {
	t.Parallel()

	paris := time.FixedZone("CEST", 2*60*60)
	now := time.Date(2030, 6, 1, 8, 0, 0, 0, paris)
	s, _ := newScheduler(t, now, reminder.WithLocation(paris))

	b := booking("b6", now)
	b.ServiceDateTime = "2030-06-01T14:30"
	plan, err := s.Plan(b)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "14:30", plan[0].Vars["serviceTime"])
	assert.Equal(t, "01/06/2030", plan[0].Vars["serviceDate"])
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	s, q := newScheduler(t, now)

	_, err := s.Schedule(ctx, booking("keep", now.Add(10*24*time.Hour)))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, booking("drop", now.Add(10*24*time.Hour)))
	require.NoError(t, err)

	n, err := s.Cancel(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	st, err := q.Stats(ctx, reminder.QueueName)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Delayed)

	n, err = s.Cancel(ctx, "drop")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Cancel(ctx, "")
	assert.ErrorIs(t, err, reminder.ErrBookingID)
}

type fetcherFunc func(ctx context.Context, id string) (*reminder.Booking, error)

func (f fetcherFunc) FetchBooking(ctx context.Context, id string) (*reminder.Booking, error) {
	return f(ctx, id)
}

func TestReschedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	moved := now.Add(3 * time.Hour)

	fetcher := fetcherFunc(func(_ context.Context, id string) (*reminder.Booking, error) {
		if id != "b7" {
			return nil, nil
		}
		b := booking(id, moved)
		return &b, nil
	})
	s, q := newScheduler(t, now, reminder.WithFetcher(fetcher))

	_, err := s.Schedule(ctx, booking("b7", now.Add(10*24*time.Hour)))
	require.NoError(t, err)

	got, err := s.Reschedule(ctx, "b7")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, moved.Add(-time.Hour).Equal(got[0].ScheduledFor))

	jobs, err := q.Jobs(ctx, reminder.QueueName, queue.StateDelayed)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = s.Reschedule(ctx, "missing")
	assert.ErrorIs(t, err, reminder.ErrBookingNotFound)

	plain, _ := newScheduler(t, now)
	_, err = plain.Reschedule(ctx, "b7")
	assert.ErrorIs(t, err, reminder.ErrNoFetcher)
}

func TestProcessor_SendsTemplatedReminder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	s, q := newScheduler(t, now)

	src, err := template.Defaults()
	require.NoError(t, err)
	svc, err := template.NewService(src, template.WithLogger(logger.Discard()))
	require.NoError(t, err)

	repo := notification.NewMemoryRepository()
	orch, err := orchestrator.New(repo, q,
		orchestrator.WithTemplates(svc),
		orchestrator.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)

	got, err := s.Schedule(ctx, booking("b8", now.Add(2*time.Hour)))
	require.NoError(t, err)
	require.Len(t, got, 1)

	proc, err := s.Processor(orch)
	require.NoError(t, err)
	job, err := q.Get(ctx, got[0].JobID)
	require.NoError(t, err)
	require.NoError(t, proc.Process(ctx, job))

	list, err := repo.List(ctx, notification.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	n := list[0]
	assert.Equal(t, notification.ChannelSMS, n.Channel)
	assert.Equal(t, notification.PriorityUrgent, n.Priority)
	assert.Contains(t, n.Content, "Awa")
	assert.Contains(t, n.Content, "EQ-b8")
	assert.Equal(t, "b8", n.Metadata["bookingId"])

	// A redelivered job maps onto the same notification.
	require.NoError(t, proc.Process(ctx, job))
	list, err = repo.List(ctx, notification.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Processor(nil)
	assert.ErrorIs(t, err, reminder.ErrSenderNil)
}

type senderFunc func(ctx context.Context, msg notification.Message) *orchestrator.Result

func (f senderFunc) Send(ctx context.Context, msg notification.Message) *orchestrator.Result {
	return f(ctx, msg)
}

func TestProcessor_Outcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	service := now.Add(2 * time.Hour)

	s, q := newScheduler(t, now)
	got, err := s.Schedule(ctx, booking("b9", service))
	require.NoError(t, err)
	job, err := q.Get(ctx, got[0].JobID)
	require.NoError(t, err)

	fail := func(err error) reminder.Sender {
		return senderFunc(func(context.Context, notification.Message) *orchestrator.Result {
			return &orchestrator.Result{Err: err, Error: err.Error()}
		})
	}

	proc, err := s.Processor(fail(notification.ErrValidation))
	require.NoError(t, err)
	assert.NoError(t, proc.Process(ctx, job), "invalid content is not retried")

	proc, err = s.Processor(fail(errors.Join(notification.ErrQueue, errors.New("redis down"))))
	require.NoError(t, err)
	assert.ErrorIs(t, proc.Process(ctx, job), notification.ErrQueue)

	late, _ := newScheduler(t, service.Add(time.Minute))
	called := false
	proc, err = late.Processor(senderFunc(func(context.Context, notification.Message) *orchestrator.Result {
		called = true
		return &orchestrator.Result{Success: true}
	}))
	require.NoError(t, err)
	require.NoError(t, proc.Process(ctx, job))
	assert.False(t, called, "reminders after the service are dropped")
}

func TestSchedule_MovedEarlierDropsStaleReminders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	s, q := newScheduler(t, now)

	got, err := s.Schedule(ctx, booking("b10", now.Add(10*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = s.Schedule(ctx, booking("b10", now.Add(3*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = q.Get(ctx, reminder.JobID("b10", reminder.Type7d))
	assert.ErrorIs(t, err, queue.ErrJobNotFound, "the 7d reminder no longer fits the new date")

	jobs, err := q.Jobs(ctx, reminder.QueueName, queue.StateDelayed)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestReschedule_CancelledBooking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	fetcher := fetcherFunc(func(_ context.Context, id string) (*reminder.Booking, error) {
		b := booking(id, now.Add(10*24*time.Hour))
		b.Status = "CANCELLED"
		return &b, nil
	})
	s, q := newScheduler(t, now, reminder.WithFetcher(fetcher))

	_, err := s.Schedule(ctx, booking("b11", now.Add(10*24*time.Hour)))
	require.NoError(t, err)

	got, err := s.Reschedule(ctx, "b11")
	require.NoError(t, err)
	assert.Empty(t, got)

	st, err := q.Stats(ctx, reminder.QueueName)
	require.NoError(t, err)
	assert.Zero(t, st.Delayed)
}

func TestProcessor_ChecksCurrentBooking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	service := now.Add(2 * time.Hour)

	cases := map[string]struct {
		fetch    func(id string) (*reminder.Booking, error)
		wantSent bool
		wantErr  bool
	}{
		"unchanged": {
			fetch: func(id string) (*reminder.Booking, error) {
				b := booking(id, service)
				return &b, nil
			},
			wantSent: true,
		},
		"moved": {
			fetch: func(id string) (*reminder.Booking, error) {
				b := booking(id, service.Add(24*time.Hour))
				return &b, nil
			},
		},
		"cancelled": {
			fetch: func(id string) (*reminder.Booking, error) {
				b := booking(id, service)
				b.Status = "cancelled"
				return &b, nil
			},
		},
		"deleted": {
			fetch: func(string) (*reminder.Booking, error) { return nil, nil },
		},
		"booking service down": {
			fetch:   func(string) (*reminder.Booking, error) { return nil, errors.New("connection refused") },
			wantErr: true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fetcher := fetcherFunc(func(_ context.Context, id string) (*reminder.Booking, error) { return tc.fetch(id) })
			s, q := newScheduler(t, now, reminder.WithFetcher(fetcher))
			got, err := s.Schedule(ctx, booking("b12", service))
			require.NoError(t, err)
			job, err := q.Get(ctx, got[0].JobID)
			require.NoError(t, err)

			var sent atomic.Bool
			proc, err := s.Processor(senderFunc(func(context.Context, notification.Message) *orchestrator.Result {
				sent.Store(true)
				return &orchestrator.Result{Success: true}
			}))
			require.NoError(t, err)

			err = proc.Process(ctx, job)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantSent, sent.Load())
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/bookings/b13":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"customerPhone":   "+33612345678",
				"serviceDateTime": "2026-11-02T09:00:00+01:00",
				"status":          "confirmed",
			})
		case "/api/bookings/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	f, err := reminder.NewHTTPFetcher(srv.URL+"/api/", "secret", time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	b, err := f.FetchBooking(ctx, "b13")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "b13", b.ID)
	assert.Equal(t, "+33612345678", b.CustomerPhone)
	assert.False(t, b.Cancelled())

	b, err = f.FetchBooking(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = f.FetchBooking(ctx, "broken")
	assert.ErrorContains(t, err, "status 502")

	_, err = reminder.NewHTTPFetcher(" ", "", 0, nil)
	assert.ErrorIs(t, err, reminder.ErrBookingAPIURL)
}
