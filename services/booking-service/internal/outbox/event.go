package outbox

import "time"

// Event is the envelope written to the outbox table. The Kafka topic is the
// configured prefix followed by EventType; messages are keyed by AggregateID so
// one appointment's events stay on one partition.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	RecipientID   string
	Sequence      int
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

type Record struct {
	ID          int64
	EventID     string
	Event
	CreatedAt time.Time
}
