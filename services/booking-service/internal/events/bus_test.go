package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/outbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	events []outbox.Event
	fail   bool
}

func (s *memorySink) Append(_ context.Context, evt outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *memorySink) snapshot() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}

func payload(seq int) Payload {
	a := model.Appointment{ID: "appt-1", Status: model.StatusConfirmed}
	for i := 0; i < seq; i++ {
		a.Timeline = append(a.Timeline, model.TimelineEntry{Status: model.StatusConfirmed})
	}
	return PayloadFor(a)
}

func TestOutboxBusPreservesPublishOrder(t *testing.T) {
	sink := &memorySink{}
	bus := NewOutboxBus(sink, zerolog.Nop(), 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()

	for i := 1; i <= 20; i++ {
		bus.Publish(context.Background(), "farmer-1", AppointmentUpdate, payload(i))
	}
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 20 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := sink.snapshot()
	for i, evt := range got {
		assert.Equal(t, i+1, evt.Sequence)
		assert.Equal(t, "appt-1", evt.AggregateID)
		assert.Equal(t, "farmer-1", evt.RecipientID)
	}

	var body Payload
	require.NoError(t, json.Unmarshal(got[0].Payload, &body))
	assert.Equal(t, "appt-1", body.AppointmentID)
}

func TestOutboxBusNeverBlocks(t *testing.T) {
	sink := &memorySink{}
	bus := NewOutboxBus(sink, zerolog.Nop(), 2)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), "farmer-1", NewAppointment, payload(1))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))
	assert.Len(t, sink.snapshot(), 2)
}

func TestOutboxBusSinkFailureIsSwallowed(t *testing.T) {
	sink := &memorySink{fail: true}
	bus := NewOutboxBus(sink, zerolog.Nop(), 4)
	bus.Publish(context.Background(), "farmer-1", NewAppointment, payload(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, bus.Run(ctx))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(context.Background(), "vet-1", AppointmentCompleted, payload(3))
	events := r.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "vet-1", events[0].UserID)
	assert.Equal(t, 3, events[0].Payload.Sequence)
}
