package gate

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
)

// Event types published by the verification engine.
const (
	EventTypeSessionStarted   events.EventType = "GateSessionStarted"
	EventTypeSessionFinalized events.EventType = "GateSessionFinalized"
	EventTypeIdentityResolved events.EventType = "GateIdentityResolved"
	EventTypeOverrideApproved events.EventType = "GateOverrideApproved"
	EventTypeSessionReset     events.EventType = "GateSessionReset"
)

// SessionStartedEvent is emitted when a new verification begins.
type SessionStartedEvent struct {
	SessionID  uuid.UUID
	GateID     string
	SiteID     string
	Budget     time.Duration
	occurredAt time.Time
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(s *Session) SessionStartedEvent {
	return SessionStartedEvent{
		SessionID:  s.ID(),
		GateID:     s.GateID(),
		SiteID:     s.SiteID(),
		Budget:     s.TotalBudget(),
		occurredAt: s.StartedAt(),
	}
}

func (e SessionStartedEvent) EventType() events.EventType { return EventTypeSessionStarted }
func (e SessionStartedEvent) OccurredAt() time.Time       { return e.occurredAt }

// SessionFinalizedEvent is emitted once a session reaches an outcome, either
// on completion, on timeout or through an override.
type SessionFinalizedEvent struct {
	SessionID    uuid.UUID
	GateID       string
	SiteID       string
	Outcome      OverallStatus
	PassedChecks int
	TotalChecks  int
	TimedOut     bool
	Overridden   bool
	IdentityID   string
	occurredAt   time.Time
}

// NewSessionFinalizedEvent captures the outcome of s.
func NewSessionFinalizedEvent(s *Session, occurredAt time.Time) SessionFinalizedEvent {
	evt := SessionFinalizedEvent{
		SessionID:    s.ID(),
		GateID:       s.GateID(),
		SiteID:       s.SiteID(),
		Outcome:      s.Status(),
		PassedChecks: s.PassedChecks(),
		TotalChecks:  s.TotalChecks(),
		TimedOut:     s.TimeRemaining() <= 0,
		Overridden:   s.Overridden(),
		occurredAt:   occurredAt,
	}
	if id, ok := s.ResolvedIdentity(); ok {
		evt.IdentityID = id.ID
	}
	return evt
}

func (e SessionFinalizedEvent) EventType() events.EventType { return EventTypeSessionFinalized }
func (e SessionFinalizedEvent) OccurredAt() time.Time       { return e.occurredAt }

// IdentityResolvedEvent is emitted the first time a session recognises a person.
type IdentityResolvedEvent struct {
	SessionID  uuid.UUID
	GateID     string
	Identity   Identity
	occurredAt time.Time
}

// NewIdentityResolvedEvent creates an IdentityResolvedEvent.
func NewIdentityResolvedEvent(s *Session, id Identity, occurredAt time.Time) IdentityResolvedEvent {
	return IdentityResolvedEvent{SessionID: s.ID(), GateID: s.GateID(), Identity: id, occurredAt: occurredAt}
}

func (e IdentityResolvedEvent) EventType() events.EventType { return EventTypeIdentityResolved }
func (e IdentityResolvedEvent) OccurredAt() time.Time       { return e.occurredAt }

// OverrideApprovedEvent carries the audit record of a supervisor override.
type OverrideApprovedEvent struct {
	Record AuditRecord
}

func (e OverrideApprovedEvent) EventType() events.EventType { return EventTypeOverrideApproved }
func (e OverrideApprovedEvent) OccurredAt() time.Time       { return e.Record.Timestamp }

// SessionResetEvent is emitted when a session is discarded by reset.
type SessionResetEvent struct {
	SessionID   uuid.UUID
	GateID      string
	PriorStatus OverallStatus
	occurredAt  time.Time
}

// NewSessionResetEvent creates a SessionResetEvent.
func NewSessionResetEvent(s *Session, occurredAt time.Time) SessionResetEvent {
	return SessionResetEvent{SessionID: s.ID(), GateID: s.GateID(), PriorStatus: s.Status(), occurredAt: occurredAt}
}

func (e SessionResetEvent) EventType() events.EventType { return EventTypeSessionReset }
func (e SessionResetEvent) OccurredAt() time.Time       { return e.occurredAt }
