// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker that fans gate events out to
// in-process subscribers; in the daemon that is the dispatcher forwarding
// them to Kafka.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
)

var _ events.EventBus = (*Broker)(nil)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("memory broker closed")

type subscription struct {
	id      uint64
	handler events.HandlerFunc
}

type handlerList []subscription

// Broker delivers events synchronously, in subscription order, on the
// publisher's goroutine. Delivery stops at the first handler error.
type Broker struct {
	mu       sync.RWMutex
	handlers map[events.EventType]handlerList
	nextID   uint64
	closed   bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[events.EventType]handlerList)}
}

// Subscribe registers handler for eventTypes. The handler is removed once ctx
// is done.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return errors.New("at least one event type is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], sub)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub.id, eventTypes)
	}()
	return nil
}

// unsubscribe removes by id; indexes shift as other subscribers leave.
func (b *Broker) unsubscribe(id uint64, eventTypes []events.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, et := range eventTypes {
		list := b.handlers[et]
		kept := list[:0:0]
		for _, sub := range list {
			if sub.id != id {
				kept = append(kept, sub)
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, et)
			continue
		}
		b.handlers[et] = kept
	}
}

// PublishDomainEvent wraps event in an envelope and hands it to every handler
// subscribed to its type, stopping at the first error. Handlers are copied
// before iteration so they may subscribe or publish themselves.
func (b *Broker) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := events.NewEnvelope(event, opts...)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlersCopy := make(handlerList, len(b.handlers[env.Type]))
	copy(handlersCopy, b.handlers[env.Type])
	b.mu.RUnlock()

	for _, sub := range handlersCopy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.handler(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Close drops every subscription. Further publishes fail with ErrBrokerClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType]handlerList)
	return nil
}
