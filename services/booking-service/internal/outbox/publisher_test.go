package outbox

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/vetbook/libs/kafkax"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestMessageCarriesRoutingAndTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceparent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	msg := Message(context.Background(), "vetbook.", Record{
		ID:      7,
		EventID: "e-1",
		Event: Event{
			AggregateType: "appointment",
			AggregateID:   "appt-1",
			EventType:     "appointment-update",
			RecipientID:   "farmer-1",
			Sequence:      3,
			Payload:       []byte(`{}`),
			Traceparent:   traceparent,
		},
	})

	assert.Equal(t, "vetbook.appointment-update", msg.Topic)
	assert.Equal(t, "appt-1", string(msg.Key))
	assert.Equal(t, "farmer-1", kafkax.HeaderValue(msg.Headers, "recipient_id"))
	assert.Equal(t, "3", kafkax.HeaderValue(msg.Headers, "sequence"))
	assert.Equal(t, "e-1", kafkax.HeaderValue(msg.Headers, "event_id"))
	assert.Equal(t, traceparent, kafkax.HeaderValue(msg.Headers, "traceparent"))
}
