// Package verification runs gate verification sessions. The Engine is the
// single owner of the active session: every producer (timer, tag client,
// detection pollers, operator API) goes through its methods, and lifecycle
// changes fan out to SessionObservers once the engine lock is released.
package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

// DefaultBudget is the verification window of a session.
const DefaultBudget = 30 * time.Second

// SessionObserver reacts to session lifecycle changes. Callbacks run outside
// the engine lock and must not block; they may call back into the engine.
type SessionObserver interface {
	// SessionStarted is called after a session enters VERIFYING.
	SessionStarted(ctx context.Context, sessionID uuid.UUID)
	// SessionEnded is called once a session reaches an outcome or is discarded.
	SessionEnded(ctx context.Context, sessionID uuid.UUID)
}

// Observers are notified in commit order and must not call Start or Reset
// from a callback.

// EngineOption is a functional option for configuring the engine.
type EngineOption func(*Engine)

// WithPolicy sets the policy new sessions are started with.
func WithPolicy(p gate.Policy) EngineOption { return func(e *Engine) { e.policy = p } }

// WithBudget sets the verification window of new sessions.
func WithBudget(d time.Duration) EngineOption { return func(e *Engine) { e.budget = d } }

// WithTimeProvider replaces the clock, used by tests.
func WithTimeProvider(tp timeutil.Provider) EngineOption {
	return func(e *Engine) { e.timeProvider = tp }
}

// WithAuditRepository persists override audit records in addition to publishing them.
func WithAuditRepository(repo gate.AuditRepository) EngineOption {
	return func(e *Engine) { e.audits = repo }
}

// WithAttendanceRecorder enables the attendance side effect on identity resolution.
func WithAttendanceRecorder(rec gate.AttendanceRecorder, timeout time.Duration) EngineOption {
	return func(e *Engine) { e.attendanceRecorder, e.attendanceTimeout = rec, timeout }
}

// WithObservers registers lifecycle observers.
func WithObservers(obs ...SessionObserver) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// Engine serializes all mutations of the active gate session.
type Engine struct {
	mu      sync.Mutex
	session *gate.Session

	policy gate.Policy
	budget time.Duration

	observersMu sync.RWMutex
	observers   []SessionObserver

	// lifecycleMu orders observer notifications by commit order. It is taken
	// before mu, never while holding it. announced is the last session
	// observers were told started.
	lifecycleMu sync.Mutex
	announced   uuid.UUID

	publisher events.DomainEventPublisher
	audits    gate.AuditRepository

	attendanceRecorder gate.AttendanceRecorder
	attendanceTimeout  time.Duration
	attendance         *attendanceDispatcher

	timeProvider timeutil.Provider

	logger  *logger.Logger
	metrics EngineMetrics
	tracer  trace.Tracer
}

// NewEngine creates an idle engine for a single checkpoint.
func NewEngine(
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	metrics EngineMetrics,
	tracer trace.Tracer,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		policy:            gate.DefaultPolicy(),
		budget:            DefaultBudget,
		publisher:         publisher,
		attendanceTimeout: 10 * time.Second,
		timeProvider:      timeutil.Default(),
		logger:            logger.With("component", "verification_engine"),
		metrics:           metrics,
		tracer:            tracer,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.attendanceRecorder != nil {
		e.attendance = newAttendanceDispatcher(e.attendanceRecorder, e.attendanceTimeout, e.logger, metrics, tracer)
	}
	return e
}

// AddObserver registers an observer after construction. Components that need
// the engine themselves (timer, pollers) are wired this way.
func (e *Engine) AddObserver(obs SessionObserver) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, obs)
}

// Start discards any previous session and begins a new one.
func (e *Engine) Start(ctx context.Context, gateID, siteID string) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "verification_engine.start",
		trace.WithAttributes(
			attribute.String("gate_id", gateID),
			attribute.String("site_id", siteID),
		))
	defer span.End()

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	s, err := gate.NewSession(uuid.New(), gateID, siteID, e.policy, e.budget, e.timeProvider.Now())
	if err != nil {
		e.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start session")
		return uuid.Nil, err
	}
	var superseded *gate.SessionResetEvent
	if prev := e.session; prev != nil {
		evt := gate.NewSessionResetEvent(prev, e.timeProvider.Now())
		superseded = &evt
	}
	e.session = s
	started := gate.NewSessionStartedEvent(s)
	e.mu.Unlock()

	span.SetAttributes(attribute.String("session_id", s.ID().String()))

	if superseded != nil {
		e.discarded(ctx, *superseded)
	}

	e.notifyStarted(ctx, s.ID())
	e.metrics.IncSessionsStarted(ctx)
	e.publish(ctx, started, s.ID())
	e.logger.Info(ctx, "Verification session started",
		"session_id", s.ID(),
		"gate_id", gateID,
		"site_id", siteID,
		"budget", e.budget,
		"total_checks", s.TotalChecks(),
	)
	return s.ID(), nil
}

// HandleScan applies a tag observation to the active session. Tag events are
// not bound to a session id; evidence ids keep them idempotent.
func (e *Engine) HandleScan(ctx context.Context, evt gate.ScanEvent) error {
	ctx, span := e.tracer.Start(ctx, "verification_engine.apply_tag_event",
		trace.WithAttributes(
			attribute.String("item", evt.Kind().String()),
			attribute.String("evidence_id", evt.EvidenceID()),
			attribute.String("source", string(evt.Source())),
		))
	defer span.End()

	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return e.dropped(ctx, span, "apply_tag_event", gate.ErrNoActiveSession, "item", evt.Kind())
	}
	done, err := s.ApplyTagEvent(evt, e.timeProvider.Now())
	fin := e.finalizedLocked(s, done)
	e.mu.Unlock()

	if err != nil {
		return e.dropped(ctx, span, "apply_tag_event", err, "session_id", s.ID(), "item", evt.Kind())
	}

	e.metrics.IncEvidenceApplied(ctx, gate.ChannelTag)
	e.logger.Debug(ctx, "Tag evidence applied",
		"session_id", s.ID(),
		"item", evt.Kind(),
		"evidence_id", evt.EvidenceID(),
		"source", evt.Source(),
	)
	e.afterFinalize(ctx, fin)
	return nil
}

// ApplyDetection applies a classifier observation that was requested for
// sessionID.
func (e *Engine) ApplyDetection(ctx context.Context, sessionID uuid.UUID, kind gate.ItemKind, confidence float64) error {
	ctx, span := e.tracer.Start(ctx, "verification_engine.apply_detection",
		trace.WithAttributes(
			attribute.String("session_id", sessionID.String()),
			attribute.String("item", kind.String()),
			attribute.Float64("confidence", confidence),
		))
	defer span.End()

	e.mu.Lock()
	s, err := e.sessionLocked(sessionID)
	if err != nil {
		e.mu.Unlock()
		return e.dropped(ctx, span, "apply_detection", err, "session_id", sessionID, "item", kind)
	}
	done, err := s.ApplyDetection(kind, confidence, e.timeProvider.Now())
	fin := e.finalizedLocked(s, done)
	e.mu.Unlock()

	if err != nil {
		return e.dropped(ctx, span, "apply_detection", err,
			"session_id", sessionID, "item", kind, "confidence", confidence)
	}

	e.metrics.IncEvidenceApplied(ctx, gate.ChannelDetection)
	e.logger.Debug(ctx, "Detection evidence applied", "session_id", sessionID, "item", kind, "confidence", confidence)
	e.afterFinalize(ctx, fin)
	return nil
}

// ApplyViolation records that the classifier saw kind missing.
func (e *Engine) ApplyViolation(ctx context.Context, sessionID uuid.UUID, kind gate.ItemKind) error {
	ctx, span := e.tracer.Start(ctx, "verification_engine.apply_violation",
		trace.WithAttributes(
			attribute.String("session_id", sessionID.String()),
			attribute.String("item", kind.String()),
		))
	defer span.End()

	e.mu.Lock()
	s, err := e.sessionLocked(sessionID)
	if err == nil {
		err = s.ApplyViolation(kind)
	}
	e.mu.Unlock()

	if err != nil {
		return e.dropped(ctx, span, "apply_violation", err, "session_id", sessionID, "item", kind)
	}
	e.logger.Debug(ctx, "Violation recorded", "session_id", sessionID, "item", kind)
	return nil
}

// ResolveIdentity sets the recognised person of sessionID and, the first time,
// dispatches the attendance side effect with frame.
func (e *Engine) ResolveIdentity(ctx context.Context, sessionID uuid.UUID, id gate.Identity, frame gate.Frame) error {
	ctx, span := e.tracer.Start(ctx, "verification_engine.resolve_identity",
		trace.WithAttributes(
			attribute.String("session_id", sessionID.String()),
			attribute.String("identity_id", id.ID),
			attribute.Float64("confidence", id.Confidence),
		))
	defer span.End()

	e.mu.Lock()
	s, err := e.sessionLocked(sessionID)
	if err == nil {
		err = s.ResolveIdentity(id)
	}
	if err != nil {
		e.mu.Unlock()
		return e.dropped(ctx, span, "resolve_identity", err, "session_id", sessionID, "identity_id", id.ID)
	}

	resolved := gate.NewIdentityResolvedEvent(s, id, e.timeProvider.Now())
	var req *gate.AttendanceRequest
	if e.attendance != nil && s.MarkAttendanceRecorded() {
		req = &gate.AttendanceRequest{
			SessionID: s.ID(),
			GateID:    s.GateID(),
			SiteID:    s.SiteID(),
			Identity:  id,
			Frame:     frame,
		}
	}
	e.mu.Unlock()

	e.logger.Info(ctx, "Identity resolved",
		"session_id", sessionID,
		"identity_id", id.ID,
		"name", id.Name,
		"confidence", id.Confidence,
	)
	e.publish(ctx, resolved, sessionID)
	if req != nil {
		e.attendance.dispatch(ctx, *req)
	}
	return nil
}

// Tick spends elapsed from the budget of sessionID.
func (e *Engine) Tick(ctx context.Context, sessionID uuid.UUID, elapsed time.Duration) error {
	e.mu.Lock()
	s, err := e.sessionLocked(sessionID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if s.Status() != gate.StatusVerifying {
		e.mu.Unlock()
		return gate.ErrSessionClosed
	}
	done := s.Tick(elapsed, e.timeProvider.Now())
	fin := e.finalizedLocked(s, done)
	e.mu.Unlock()

	e.afterFinalize(ctx, fin)
	return nil
}

// Override promotes a WARNING outcome to PASSED. The audit record is published
// and, when a repository is configured, persisted.
func (e *Engine) Override(ctx context.Context, reason, operator string) (gate.AuditRecord, error) {
	ctx, span := e.tracer.Start(ctx, "verification_engine.override")
	defer span.End()

	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		span.SetStatus(codes.Error, "no session")
		return gate.AuditRecord{}, gate.ErrOverrideUnavailable
	}
	rec, err := s.Override(reason, operator, e.timeProvider.Now())
	if err != nil {
		e.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "override rejected")
		e.logger.Warn(ctx, "Override rejected", "session_id", s.ID(), "status", s.Status(), "error", err)
		return gate.AuditRecord{}, err
	}
	finalized := gate.NewSessionFinalizedEvent(s, rec.Timestamp)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.String("session_id", rec.SessionID.String()),
		attribute.Int("passed_checks", rec.PassedChecks),
		attribute.Int("total_checks", rec.TotalChecks),
	)

	if e.audits != nil {
		if err := e.audits.SaveOverride(ctx, rec); err != nil {
			span.RecordError(err)
			e.logger.Error(ctx, "Failed to persist override audit record",
				"session_id", rec.SessionID, "audit_id", rec.ID, "error", err)
		}
	}

	e.metrics.IncOverrides(ctx)
	e.metrics.IncSessionsFinalized(ctx, gate.StatusPassed, false)
	e.publish(ctx, gate.OverrideApprovedEvent{Record: rec}, rec.SessionID)
	e.publish(ctx, finalized, rec.SessionID)
	e.logger.Info(ctx, "Override approved",
		"session_id", rec.SessionID,
		"audit_id", rec.ID,
		"passed_checks", rec.PassedChecks,
		"total_checks", rec.TotalChecks,
		"operator", rec.Operator,
		"reason", rec.Reason,
	)
	return rec, nil
}

// Reset discards the active session, if any. The engine returns to IDLE.
func (e *Engine) Reset(ctx context.Context) {
	ctx, span := e.tracer.Start(ctx, "verification_engine.reset")
	defer span.End()

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	prev := e.session
	e.session = nil
	var evt gate.SessionResetEvent
	if prev != nil {
		evt = gate.NewSessionResetEvent(prev, e.timeProvider.Now())
	}
	e.mu.Unlock()

	if prev == nil {
		return
	}
	e.discarded(ctx, evt)
}

// Snapshot returns a copy of the active session.
func (e *Engine) Snapshot() (gate.SessionSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return gate.SessionSnapshot{}, false
	}
	return e.session.Snapshot(), true
}

// Status returns the overall status of the gate; IDLE when no session exists.
func (e *Engine) Status() gate.OverallStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return gate.StatusIdle
	}
	return e.session.Status()
}

// ActiveSession returns the id of the session currently verifying.
func (e *Engine) ActiveSession() (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.Status() != gate.StatusVerifying {
		return uuid.Nil, false
	}
	return e.session.ID(), true
}

// Shutdown waits for in-flight attendance calls or for ctx to be done.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.attendance == nil {
		return nil
	}
	return e.attendance.wait(ctx)
}

func (e *Engine) sessionLocked(sessionID uuid.UUID) (*gate.Session, error) {
	if e.session == nil {
		return nil, gate.ErrNoActiveSession
	}
	if e.session.ID() != sessionID {
		return nil, gate.ErrStaleResponse
	}
	return e.session, nil
}

// finalizedLocked captures the outcome event while the lock is held.
func (e *Engine) finalizedLocked(s *gate.Session, done bool) *gate.SessionFinalizedEvent {
	if !done {
		return nil
	}
	evt := gate.NewSessionFinalizedEvent(s, e.timeProvider.Now())
	return &evt
}

func (e *Engine) afterFinalize(ctx context.Context, fin *gate.SessionFinalizedEvent) {
	if fin == nil {
		return
	}

	e.lifecycleMu.Lock()
	e.notifyEndedLocked(ctx, fin.SessionID)
	e.lifecycleMu.Unlock()

	e.metrics.IncSessionsFinalized(ctx, fin.Outcome, fin.TimedOut)
	if started, ok := e.startedAt(fin.SessionID); ok {
		e.metrics.ObserveSessionDuration(ctx, fin.OccurredAt().Sub(started))
	}
	e.publish(ctx, *fin, fin.SessionID)
	e.logger.Info(ctx, "Verification session finalized",
		"session_id", fin.SessionID,
		"outcome", fin.Outcome,
		"passed_checks", fin.PassedChecks,
		"total_checks", fin.TotalChecks,
		"timed_out", fin.TimedOut,
	)
}

func (e *Engine) startedAt(sessionID uuid.UUID) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.ID() != sessionID {
		return time.Time{}, false
	}
	return e.session.StartedAt(), true
}

// discarded must be called with lifecycleMu held.
func (e *Engine) discarded(ctx context.Context, evt gate.SessionResetEvent) {
	if evt.PriorStatus == gate.StatusVerifying {
		e.notifyEndedLocked(ctx, evt.SessionID)
	}
	e.metrics.IncSessionsReset(ctx)
	e.publish(ctx, evt, evt.SessionID)
	e.logger.Info(ctx, "Verification session discarded", "session_id", evt.SessionID, "prior_status", evt.PriorStatus)
}

// notifyStarted must be called with lifecycleMu held.
func (e *Engine) notifyStarted(ctx context.Context, id uuid.UUID) {
	e.announced = id
	for _, obs := range e.snapshotObservers() {
		obs.SessionStarted(ctx, id)
	}
}

// notifyEndedLocked tells observers id ended unless a newer session has
// already been announced. lifecycleMu must be held.
func (e *Engine) notifyEndedLocked(ctx context.Context, id uuid.UUID) {
	if e.announced != id {
		return
	}
	e.announced = uuid.Nil
	for _, obs := range e.snapshotObservers() {
		obs.SessionEnded(ctx, id)
	}
}

func (e *Engine) snapshotObservers() []SessionObserver {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	out := make([]SessionObserver, len(e.observers))
	copy(out, e.observers)
	return out
}

func (e *Engine) publish(ctx context.Context, evt events.DomainEvent, sessionID uuid.UUID) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishDomainEvent(ctx, evt, events.WithKey(sessionID.String())); err != nil {
		e.logger.Error(ctx, "Failed to publish domain event",
			"event_type", evt.EventType(),
			"session_id", sessionID,
			"error", err,
		)
	}
}

// dropped logs and counts an event that had no effect, then returns err.
func (e *Engine) dropped(ctx context.Context, span trace.Span, op string, err error, args ...any) error {
	reason := dropReason(err)
	span.SetAttributes(attribute.String("dropped", reason))
	e.metrics.IncEventsDropped(ctx, reason)
	e.logger.Debug(ctx, "Event dropped", append([]any{"op", op, "reason", reason, "error", err}, args...)...)
	return err
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, gate.ErrNoActiveSession):
		return "no_session"
	case errors.Is(err, gate.ErrStaleResponse):
		return "stale"
	case errors.Is(err, gate.ErrSessionClosed):
		return "closed"
	case errors.Is(err, gate.ErrDuplicateEvidence):
		return "duplicate"
	case errors.Is(err, gate.ErrChannelAlreadyPassed):
		return "already_passed"
	case errors.Is(err, gate.ErrChannelNotRequired):
		return "not_required"
	case errors.Is(err, gate.ErrUnknownItemKind):
		return "unknown_item"
	case errors.Is(err, gate.ErrBelowThreshold):
		return "below_threshold"
	case errors.Is(err, gate.ErrIdentityResolved):
		return "identity_resolved"
	default:
		return "other"
	}
}
