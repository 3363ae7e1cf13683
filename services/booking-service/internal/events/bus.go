// Package events fans appointment changes out to the people involved.
package events

import (
	"context"
	"encoding/json"
	"sync"

	otelx "github.com/md-rashed-zaman/vetbook/libs/otel"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/outbox"
	"github.com/rs/zerolog"
)

const (
	NewAppointment       = "new-appointment"
	AppointmentUpdate    = "appointment-update"
	AppointmentCompleted = "appointment-completed"
)

// Payload is the body delivered to a recipient. Sequence is the length of the
// appointment timeline when the event was raised; consumers use it to order
// and deduplicate events for one appointment.
type Payload struct {
	AppointmentID string                  `json:"appointmentId"`
	Sequence      int                     `json:"sequence"`
	Status        model.AppointmentStatus `json:"status"`
	Appointment   model.Appointment       `json:"appointment"`
}

func PayloadFor(a model.Appointment) Payload {
	return Payload{AppointmentID: a.ID, Sequence: len(a.Timeline), Status: a.Status, Appointment: a}
}

// Bus accepts events without blocking the caller. Delivery is best effort.
type Bus interface {
	Publish(ctx context.Context, userID, eventType string, payload Payload)
}

// Sink persists events handed over by OutboxBus.
type Sink interface {
	Append(ctx context.Context, evt outbox.Event) error
}

const DefaultQueueSize = 1024

// OutboxBus queues events in a bounded channel drained by a single goroutine
// into the outbox. Events from one caller are written in publish order; a full
// queue drops the event.
type OutboxBus struct {
	queue  chan outbox.Event
	sink   Sink
	logger zerolog.Logger
}

func NewOutboxBus(sink Sink, logger zerolog.Logger, size int) *OutboxBus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &OutboxBus{queue: make(chan outbox.Event, size), sink: sink, logger: logger}
}

func (b *OutboxBus) Publish(ctx context.Context, userID, eventType string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", eventType).Msg("event payload encode failed")
		return
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	evt := outbox.Event{
		AggregateType: "appointment",
		AggregateID:   payload.AppointmentID,
		EventType:     eventType,
		RecipientID:   userID,
		Sequence:      payload.Sequence,
		Payload:       body,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	}
	select {
	case b.queue <- evt:
	default:
		b.logger.Warn().
			Str("event_type", eventType).
			Str("appointment_id", payload.AppointmentID).
			Str("recipient_id", userID).
			Msg("event queue full, dropping event")
	}
}

// Run drains the queue until ctx is done, then flushes what is already queued.
func (b *OutboxBus) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-b.queue:
			b.write(ctx, evt)
		case <-ctx.Done():
			b.flush()
			return nil
		}
	}
}

func (b *OutboxBus) flush() {
	ctx := context.Background()
	for {
		select {
		case evt := <-b.queue:
			b.write(ctx, evt)
		default:
			return
		}
	}
}

func (b *OutboxBus) write(ctx context.Context, evt outbox.Event) {
	if err := b.sink.Append(ctx, evt); err != nil {
		b.logger.Error().Err(err).
			Str("event_type", evt.EventType).
			Str("appointment_id", evt.AggregateID).
			Str("recipient_id", evt.RecipientID).
			Msg("event append failed")
	}
}

// LogBus writes events to the log only.
type LogBus struct {
	logger zerolog.Logger
}

func NewLogBus(logger zerolog.Logger) *LogBus {
	return &LogBus{logger: logger}
}

func (b *LogBus) Publish(_ context.Context, userID, eventType string, payload Payload) {
	b.logger.Info().
		Str("event_type", eventType).
		Str("recipient_id", userID).
		Str("appointment_id", payload.AppointmentID).
		Int("sequence", payload.Sequence).
		Str("status", string(payload.Status)).
		Msg("appointment event")
}

type Published struct {
	UserID    string
	EventType string
	Payload   Payload
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) Publish(_ context.Context, userID, eventType string, payload Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{UserID: userID, EventType: eventType, Payload: payload})
}

func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}
