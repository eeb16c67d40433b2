package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

// recordingPublisher implements events.DomainEventPublisher and keeps every event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
	keys   []string
	err    error
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	env := events.NewEnvelope(evt, opts...)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	p.keys = append(p.keys, env.Key)
	return p.err
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func (p *recordingPublisher) last(t events.EventType) (events.DomainEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].EventType() == t {
			return p.events[i], true
		}
	}
	return nil, false
}

// mockAttendanceRecorder implements gate.AttendanceRecorder for testing.
type mockAttendanceRecorder struct{ mock.Mock }

func (m *mockAttendanceRecorder) RecordAttendance(ctx context.Context, req gate.AttendanceRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// mockAuditRepository implements gate.AuditRepository for testing.
type mockAuditRepository struct{ mock.Mock }

func (m *mockAuditRepository) SaveOverride(ctx context.Context, rec gate.AuditRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockAuditRepository) ListOverrides(ctx context.Context, gateID string, limit int) ([]gate.AuditRecord, error) {
	args := m.Called(ctx, gateID, limit)
	if recs := args.Get(0); recs != nil {
		return recs.([]gate.AuditRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

// lifecycleRecorder implements SessionObserver and keeps the callbacks it saw.
type lifecycleRecorder struct {
	mu      sync.Mutex
	started []uuid.UUID
	ended   []uuid.UUID
}

func (r *lifecycleRecorder) SessionStarted(_ context.Context, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *lifecycleRecorder) SessionEnded(_ context.Context, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
}

func (r *lifecycleRecorder) endedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ended...)
}

var testNow = time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)

type engineSuite struct {
	engine    *Engine
	publisher *recordingPublisher
	observer  *lifecycleRecorder
	clock     *timeutil.Mock
}

func newTestEngine(t *testing.T, opts ...EngineOption) engineSuite {
	t.Helper()

	metrics, err := NewEngineMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	pub := new(recordingPublisher)
	obs := new(lifecycleRecorder)
	clock := timeutil.NewMock(testNow)

	all := append([]EngineOption{WithTimeProvider(clock), WithObservers(obs)}, opts...)
	e := NewEngine(pub, logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"), all...)

	return engineSuite{engine: e, publisher: pub, observer: obs, clock: clock}
}
