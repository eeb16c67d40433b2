package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

func overrideEvent(gateID string) gate.OverrideApprovedEvent {
	return gate.OverrideApprovedEvent{Record: gate.AuditRecord{
		ID:           uuid.New(),
		SessionID:    uuid.New(),
		GateID:       gateID,
		PassedChecks: 4,
		TotalChecks:  7,
		Reason:       "Boots scanned manually",
		Timestamp:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}}
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	evt := overrideEvent("gate-1")

	var got events.EventEnvelope
	err := broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(_ context.Context, env events.EventEnvelope) error {
		got = env
		return nil
	})
	require.NoError(t, err)

	err = broker.PublishDomainEvent(ctx, evt, events.WithKey("session-1"), events.WithHeaders(map[string]string{"site": "north"}))
	require.NoError(t, err)

	assert.Equal(t, gate.EventTypeOverrideApproved, got.Type)
	assert.Equal(t, "session-1", got.Key)
	assert.Equal(t, "north", got.Headers["site"])
	assert.Equal(t, evt.Record.Timestamp, got.Timestamp)
	assert.Equal(t, evt, got.Payload)
}

func TestPublishRoutesByType(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	var overrides, resets int
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		overrides++
		return nil
	}))
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeSessionReset, gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		resets++
		return nil
	}))

	require.NoError(t, broker.PublishDomainEvent(ctx, overrideEvent("gate-1")))
	require.NoError(t, broker.PublishDomainEvent(ctx, gate.SessionResetEvent{SessionID: uuid.New(), GateID: "gate-1"}))
	require.NoError(t, broker.PublishDomainEvent(ctx, gate.IdentityResolvedEvent{SessionID: uuid.New()}))

	assert.Equal(t, 1, overrides)
	assert.Equal(t, 2, resets)
}

func TestMultipleSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	subscriberCount := 3

	var order []int
	for i := 0; i < subscriberCount; i++ {
		i := i
		require.NoError(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, broker.PublishDomainEvent(ctx, overrideEvent("gate-1")))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestHandlerError(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	expectedErr := errors.New("handler error")

	called := false
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		return expectedErr
	}))
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		called = true
		return nil
	}))

	err := broker.PublishDomainEvent(ctx, overrideEvent("gate-1"))
	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, called, "delivery must stop at the first failing handler")
}

func TestSubscribeValidation(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()

	assert.Error(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, nil))
	assert.Error(t, broker.Subscribe(ctx, nil, func(context.Context, events.EventEnvelope) error { return nil }))
}

func TestUnsubscribeOnContextDone(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	subCtx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	first, second := 0, 0
	require.NoError(t, broker.Subscribe(subCtx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		mu.Lock()
		first++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, broker.Subscribe(context.Background(), []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		mu.Lock()
		second++
		mu.Unlock()
		return nil
	}))

	cancel()
	assert.Eventually(t, func() bool {
		broker.mu.RLock()
		defer broker.mu.RUnlock()
		return len(broker.handlers[gate.EventTypeOverrideApproved]) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, broker.PublishDomainEvent(context.Background(), overrideEvent("gate-1")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	eventCount := 100
	subscriberCount := 5
	wg.Add(eventCount * subscriberCount)

	for i := 0; i < subscriberCount; i++ {
		err := broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
			defer wg.Done()
			return nil
		})
		assert.NoError(t, err)
	}

	for i := 0; i < eventCount; i++ {
		go func() {
			err := broker.PublishDomainEvent(ctx, overrideEvent("gate-1"))
			assert.NoError(t, err)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handlers")
	}
}

func TestContextCancellation(t *testing.T) {
	broker := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.PublishDomainEvent(ctx, overrideEvent("gate-1"))
	assert.ErrorIs(t, err, context.Canceled)

	err = broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	broker := NewBroker()
	ctx := context.Background()

	require.NoError(t, broker.Close())
	assert.ErrorIs(t, broker.PublishDomainEvent(ctx, overrideEvent("gate-1")), ErrBrokerClosed)
	assert.ErrorIs(t, broker.Subscribe(ctx, []events.EventType{gate.EventTypeOverrideApproved}, func(context.Context, events.EventEnvelope) error {
		return nil
	}), ErrBrokerClosed)
}
