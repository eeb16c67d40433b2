package events

import "time"

// DomainEvent is implemented by every fact the gate engine announces to the
// rest of the system: session lifecycle changes, identity resolution and
// override approvals.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType
	// OccurredAt records when the fact happened.
	OccurredAt() time.Time
}

// EventEnvelope wraps a DomainEvent with the routing metadata assigned at
// publish time.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically the session ID so every
	// event of one verification lands on the same partition.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload is the original domain event.
	Payload DomainEvent
}

// NewEnvelope applies the publish options to evt.
func NewEnvelope(evt DomainEvent, opts ...PublishOption) EventEnvelope {
	var params PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	return EventEnvelope{
		Type:      evt.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}
}
