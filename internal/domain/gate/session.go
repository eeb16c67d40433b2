package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one verification attempt at a gate. It aggregates per-item
// channel evidence into an overall outcome.
//
// Session is not safe for concurrent use. The verification engine owns the
// only reference and serializes every mutation.
type Session struct {
	id     uuid.UUID
	gateID string
	siteID string
	policy Policy

	items  map[ItemKind]*VerificationItem
	status OverallStatus

	totalBudget   time.Duration
	timeRemaining time.Duration

	resolvedIdentity   *Identity
	attendanceRecorded bool
	appliedEvidence    map[string]struct{}
	overridden         bool

	startedAt time.Time
	endedAt   time.Time
}

// NewSession creates a session in VERIFYING with every required channel armed.
func NewSession(
	id uuid.UUID,
	gateID string,
	siteID string,
	policy Policy,
	budget time.Duration,
	now time.Time,
) (*Session, error) {
	if strings.TrimSpace(gateID) == "" || strings.TrimSpace(siteID) == "" {
		return nil, ErrInvalidTarget
	}
	if budget <= 0 {
		return nil, fmt.Errorf("verification budget must be positive, got %s", budget)
	}

	s := &Session{
		id:              id,
		gateID:          gateID,
		siteID:          siteID,
		policy:          policy,
		items:           make(map[ItemKind]*VerificationItem, len(policy.Items())),
		status:          StatusIdle,
		totalBudget:     budget,
		timeRemaining:   budget,
		appliedEvidence: make(map[string]struct{}),
		startedAt:       now,
	}

	for _, kind := range policy.Items() {
		item := newVerificationItem(kind)
		for _, ch := range policy.RequiredChannels(kind) {
			if err := item.setStatus(ch, ChannelStatusChecking); err != nil {
				return nil, err
			}
		}
		s.items[kind] = item
	}

	if err := s.transition(StatusVerifying); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// GateID returns the checkpoint this session runs on.
func (s *Session) GateID() string { return s.gateID }

// SiteID returns the site of the checkpoint.
func (s *Session) SiteID() string { return s.siteID }

// Policy returns the policy the session was started with.
func (s *Session) Policy() Policy { return s.policy }

// Status returns the overall status.
func (s *Session) Status() OverallStatus { return s.status }

// TotalBudget returns the verification time budget.
func (s *Session) TotalBudget() time.Duration { return s.totalBudget }

// TimeRemaining returns the unspent budget.
func (s *Session) TimeRemaining() time.Duration { return s.timeRemaining }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// EndedAt returns when the session reached an outcome.
func (s *Session) EndedAt() (time.Time, bool) { return s.endedAt, !s.endedAt.IsZero() }

// Overridden reports whether the outcome was promoted by a supervisor.
func (s *Session) Overridden() bool { return s.overridden }

// AttendanceRecorded reports whether the attendance side effect has fired.
func (s *Session) AttendanceRecorded() bool { return s.attendanceRecorded }

// ResolvedIdentity returns the recognised person, if any.
func (s *Session) ResolvedIdentity() (Identity, bool) {
	if s.resolvedIdentity == nil {
		return Identity{}, false
	}
	return *s.resolvedIdentity, true
}

// Item returns the state of kind, if the policy checks it.
func (s *Session) Item(kind ItemKind) (*VerificationItem, bool) {
	item, ok := s.items[kind]
	return item, ok
}

// PassedChecks counts required (item, channel) pairs that passed.
func (s *Session) PassedChecks() int {
	passed := 0
	for kind, item := range s.items {
		passed += item.passedCount(s.policy.required[kind])
	}
	return passed
}

// TotalChecks counts required (item, channel) pairs.
func (s *Session) TotalChecks() int { return s.policy.TotalChecks() }

// CompleteItems counts items whose required channels all passed.
func (s *Session) CompleteItems() int {
	complete := 0
	for kind, item := range s.items {
		if item.complete(s.policy.required[kind]) {
			complete++
		}
	}
	return complete
}

// ApplyTagEvent records a tag observation. It reports whether the session
// reached an outcome as a result. Events that change nothing return one of the
// drop errors (ErrSessionClosed, ErrDuplicateEvidence, ...).
func (s *Session) ApplyTagEvent(evt ScanEvent, now time.Time) (bool, error) {
	if s.status != StatusVerifying {
		return false, ErrSessionClosed
	}
	if _, dup := s.appliedEvidence[evt.EvidenceID()]; dup {
		return false, ErrDuplicateEvidence
	}

	item, err := s.requiredItem(evt.Kind(), ChannelTag)
	if err != nil {
		return false, err
	}
	if item.tagStatus == ChannelStatusPassed {
		return false, ErrChannelAlreadyPassed
	}

	if err := item.setStatus(ChannelTag, ChannelStatusPassed); err != nil {
		return false, err
	}
	item.tagEvidenceID = evt.EvidenceID()
	s.appliedEvidence[evt.EvidenceID()] = struct{}{}

	return s.finalizeIfComplete(now), nil
}

// ApplyDetection records a detection. Confidence must exceed the policy
// threshold; a passed channel is never downgraded.
func (s *Session) ApplyDetection(kind ItemKind, confidence float64, now time.Time) (bool, error) {
	if s.status != StatusVerifying {
		return false, ErrSessionClosed
	}

	item, err := s.requiredItem(kind, ChannelDetection)
	if err != nil {
		return false, err
	}
	if confidence <= s.policy.confidenceThreshold {
		return false, ErrBelowThreshold
	}
	if item.detectionStatus == ChannelStatusPassed {
		return false, ErrChannelAlreadyPassed
	}

	if err := item.setStatus(ChannelDetection, ChannelStatusPassed); err != nil {
		return false, err
	}
	c := confidence
	item.detectionConfidence = &c

	return s.finalizeIfComplete(now), nil
}

// ApplyViolation marks the detection channel of kind as failed because the
// classifier saw the item missing. The channel stays open: later positive
// evidence in the same session still passes it. A passed channel is kept.
func (s *Session) ApplyViolation(kind ItemKind) error {
	if s.status != StatusVerifying {
		return ErrSessionClosed
	}

	item, err := s.requiredItem(kind, ChannelDetection)
	if err != nil {
		return err
	}
	switch item.detectionStatus {
	case ChannelStatusPassed:
		return ErrChannelAlreadyPassed
	case ChannelStatusFailed:
		return nil
	}
	return item.setStatus(ChannelDetection, ChannelStatusFailed)
}

// ResolveIdentity sets the recognised person. It succeeds at most once.
func (s *Session) ResolveIdentity(id Identity) error {
	if s.status != StatusVerifying {
		return ErrSessionClosed
	}
	if s.resolvedIdentity != nil {
		return ErrIdentityResolved
	}
	if id.ID == "" || id.Confidence < s.policy.identityFloor {
		return ErrBelowThreshold
	}
	resolved := id
	s.resolvedIdentity = &resolved
	return nil
}

// MarkAttendanceRecorded flips the attendance flag and reports whether this
// call was the first. It is only possible after an identity was resolved.
func (s *Session) MarkAttendanceRecorded() bool {
	if s.resolvedIdentity == nil || s.attendanceRecorded {
		return false
	}
	s.attendanceRecorded = true
	return true
}

// Tick spends elapsed from the budget. When the budget runs out while
// verifying the session is finalized regardless of channel state.
func (s *Session) Tick(elapsed time.Duration, now time.Time) bool {
	if s.status != StatusVerifying || elapsed <= 0 {
		return false
	}
	s.timeRemaining -= elapsed
	if s.timeRemaining > 0 {
		return false
	}
	s.timeRemaining = 0
	s.finalize(now)
	return true
}

// Override promotes a WARNING outcome to PASSED with a justification and
// returns the audit record describing it.
func (s *Session) Override(reason, operator string, now time.Time) (AuditRecord, error) {
	if s.status != StatusWarning {
		return AuditRecord{}, ErrOverrideUnavailable
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return AuditRecord{}, ErrEmptyReason
	}

	rec := AuditRecord{
		ID:           uuid.New(),
		SessionID:    s.id,
		GateID:       s.gateID,
		SiteID:       s.siteID,
		PassedChecks: s.PassedChecks(),
		TotalChecks:  s.TotalChecks(),
		Reason:       reason,
		Operator:     strings.TrimSpace(operator),
		Timestamp:    now,
	}

	if err := s.transition(StatusPassed); err != nil {
		return AuditRecord{}, err
	}
	s.overridden = true
	return rec, nil
}

// Outcome applies the outcome rule to the current evidence: PASSED when every
// item is complete, FAILED when none is, WARNING otherwise.
func (s *Session) Outcome() OverallStatus {
	complete := s.CompleteItems()
	switch {
	case complete == len(s.items):
		return StatusPassed
	case complete == 0:
		return StatusFailed
	default:
		return StatusWarning
	}
}

func (s *Session) requiredItem(kind ItemKind, ch Channel) (*VerificationItem, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemKind, kind)
	}
	item, ok := s.items[kind]
	if !ok || !s.policy.Requires(kind, ch) {
		return nil, fmt.Errorf("%w: %s/%s", ErrChannelNotRequired, kind, ch)
	}
	return item, nil
}

func (s *Session) finalizeIfComplete(now time.Time) bool {
	if s.PassedChecks() != s.TotalChecks() {
		return false
	}
	s.finalize(now)
	return true
}

func (s *Session) finalize(now time.Time) {
	outcome := s.Outcome()
	for kind, item := range s.items {
		for _, ch := range s.policy.required[kind] {
			if item.Status(ch) == ChannelStatusChecking {
				_ = item.setStatus(ch, ChannelStatusFailed)
			}
		}
	}
	// VERIFYING always accepts a terminal outcome.
	_ = s.transition(outcome)
	s.endedAt = now
}

func (s *Session) transition(target OverallStatus) error {
	if err := s.status.ValidateTransition(target); err != nil {
		return err
	}
	s.status = target
	return nil
}
