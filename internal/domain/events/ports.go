// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It provides a technology-agnostic interface to decouple event
// producers from the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. The provided context
	// controls cancellation and deadlines. Optional PublishOptions configure routing behavior.
	// Returns an error if publishing fails.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// HandlerFunc processes a single published envelope.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error

// EventBus enables publishing and subscribing to domain events in-process.
type EventBus interface {
	DomainEventPublisher

	// Subscribe registers a handler for the given event types until ctx is done.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close releases resources held by the bus.
	Close() error
}
