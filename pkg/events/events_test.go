package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

func sample(t events.Type) events.Event {
	n := &notification.Notification{ID: "n-1", Status: notification.StatusSent}
	n.Channel = notification.ChannelEmail
	return events.New(t, n, map[string]any{"k": "v"})
}

func TestForStatus(t *testing.T) {
	t.Parallel()

	typ, ok := events.ForStatus(notification.StatusRead)
	assert.True(t, ok)
	assert.Equal(t, events.NotificationRead, typ)

	_, ok = events.ForStatus(notification.StatusSending)
	assert.False(t, ok)
}

func TestMemoryBus(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	bus := events.NewMemoryBus(1)

	all := bus.Subscribe(ctx)
	sentOnly := bus.Subscribe(context.Background(), events.NotificationSent)

	require.NoError(t, bus.Publish(ctx, sample(events.NotificationCreated)))
	require.NoError(t, bus.Publish(ctx, sample(events.NotificationSent)))

	e := <-all.C()
	assert.Equal(t, events.NotificationCreated, e.Type)
	assert.Equal(t, 1, all.Dropped())

	e = <-sentOnly.C()
	assert.Equal(t, events.NotificationSent, e.Type)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-all.C()
		return !open
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	_, open := <-sentOnly.C()
	assert.False(t, open)
}

func TestEmitter(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []events.Type
	)
	ok := events.PublisherFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
		return nil
	})
	failing := events.PublisherFunc(func(context.Context, events.Event) error { return errors.New("broker down") })

	em := events.NewEmitter([]events.Publisher{failing, nil, ok}, events.WithLogger(logger.Discard()))
	err := em.Emit(context.Background(), sample(events.NotificationCreated))
	assert.Error(t, err)
	assert.Equal(t, []events.Type{events.NotificationCreated}, got)

	var nilEmitter *events.Emitter
	assert.NoError(t, nilEmitter.Emit(context.Background(), sample(events.NotificationCreated)))
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	t.Parallel()

	_, err := events.NewKafkaPublisher(events.KafkaConfig{})
	require.ErrorIs(t, err, events.ErrNoBrokers)

	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w, "notification-events")

	require.NoError(t, p.Publish(context.Background(), sample(events.NotificationSent)))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "notification-events", msg.Topic)
	assert.Equal(t, "n-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, events.NotificationSent, decoded.Type)
	assert.Equal(t, notification.ChannelEmail, decoded.Channel)

	w.err = errors.New("leader not available")
	assert.Error(t, p.Publish(context.Background(), sample(events.NotificationSent)))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
