// Package eventdispatcher routes gate events from the in-process bus to the
// handler registered for their type, typically an outbound publisher.
package eventdispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// Dispatcher holds exactly one handler per event type.
//
// Typical usage:
//
//	d := eventdispatcher.New(tracer, log)
//	d.Forward(ctx, kafkaPublisher, gate.EventTypeSessionFinalized, gate.EventTypeOverrideApproved)
//	bus.Subscribe(ctx, d.EventTypes(), d.Dispatch)
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.EventType]events.HandlerFunc
	tracer   trace.Tracer
	logger   *logger.Logger
}

// New constructs a Dispatcher with no handlers.
func New(tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[events.EventType]events.HandlerFunc),
		tracer:   tracer,
		logger:   logger.With("component", "event_dispatcher"),
	}
}

// RegisterHandler associates handler with eventType, replacing any previous
// handler for it. Safe for concurrent use.
func (d *Dispatcher) RegisterHandler(ctx context.Context, eventType events.EventType, handler events.HandlerFunc) {
	d.mu.Lock()
	d.handlers[eventType] = handler
	d.mu.Unlock()
	d.logger.Debug(ctx, "Handler registered", "event_type", eventType)
}

// Forward registers a handler for each of eventTypes that republishes the
// event through pub, keeping its partition key and headers.
func (d *Dispatcher) Forward(ctx context.Context, pub events.DomainEventPublisher, eventTypes ...events.EventType) {
	forward := func(ctx context.Context, env events.EventEnvelope) error {
		opts := []events.PublishOption{events.WithKey(env.Key)}
		if len(env.Headers) > 0 {
			opts = append(opts, events.WithHeaders(env.Headers))
		}
		return pub.PublishDomainEvent(ctx, env.Payload, opts...)
	}
	for _, et := range eventTypes {
		d.RegisterHandler(ctx, et, forward)
	}
}

// EventTypes lists the registered types in a stable order.
func (d *Dispatcher) EventTypes() []events.EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]events.EventType, 0, len(d.handlers))
	for et := range d.handlers {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// HandlerNotFoundError reports an event with no registered handler.
type HandlerNotFoundError struct {
	EventType events.EventType
	Key       string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s (key: %s)", e.EventType, e.Key)
}

// Dispatch hands evt to its registered handler. It has the shape of an
// events.HandlerFunc so it can be subscribed to a bus directly.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope) error {
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("key", evt.Key),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{EventType: evt.Type, Key: evt.Key}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := handler(ctx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn(ctx, "Event dispatch failed", "event_type", evt.Type, "key", evt.Key, "error", err)
		return fmt.Errorf("failed to dispatch event type %s: %w", evt.Type, err)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	d.logger.Debug(ctx, "Event dispatched", "event_type", evt.Type, "key", evt.Key)
	return nil
}
