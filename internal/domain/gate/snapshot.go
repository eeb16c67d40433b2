package gate

import (
	"time"

	"github.com/google/uuid"
)

// ItemSnapshot is a read-only view of one item.
type ItemSnapshot struct {
	Kind                ItemKind      `json:"kind"`
	RequiredChannels    []Channel     `json:"required_channels"`
	TagStatus           ChannelStatus `json:"tag_status"`
	TagEvidenceID       string        `json:"tag_evidence_id,omitempty"`
	DetectionStatus     ChannelStatus `json:"detection_status"`
	DetectionConfidence *float64      `json:"detection_confidence,omitempty"`
	Complete            bool          `json:"complete"`
}

// SessionSnapshot is a read-only view of a session, safe to hand to other
// goroutines.
type SessionSnapshot struct {
	SessionID          uuid.UUID      `json:"session_id"`
	GateID             string         `json:"gate_id"`
	SiteID             string         `json:"site_id"`
	Status             OverallStatus  `json:"status"`
	Items              []ItemSnapshot `json:"items"`
	PassedChecks       int            `json:"passed_checks"`
	TotalChecks        int            `json:"total_checks"`
	TimeRemainingMS    int64          `json:"time_remaining_ms"`
	TotalBudgetMS      int64          `json:"total_budget_ms"`
	Identity           *Identity      `json:"identity,omitempty"`
	AttendanceRecorded bool           `json:"attendance_recorded"`
	Overridden         bool           `json:"overridden"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		SessionID:          s.id,
		GateID:             s.gateID,
		SiteID:             s.siteID,
		Status:             s.status,
		PassedChecks:       s.PassedChecks(),
		TotalChecks:        s.TotalChecks(),
		TimeRemainingMS:    s.timeRemaining.Milliseconds(),
		TotalBudgetMS:      s.totalBudget.Milliseconds(),
		AttendanceRecorded: s.attendanceRecorded,
		Overridden:         s.overridden,
		StartedAt:          s.startedAt,
	}
	if id, ok := s.ResolvedIdentity(); ok {
		snap.Identity = &id
	}
	if ended, ok := s.EndedAt(); ok {
		snap.EndedAt = &ended
	}

	for _, kind := range s.policy.Items() {
		item := s.items[kind]
		required := s.policy.RequiredChannels(kind)
		is := ItemSnapshot{
			Kind:             kind,
			RequiredChannels: required,
			TagStatus:        item.tagStatus,
			TagEvidenceID:    item.tagEvidenceID,
			DetectionStatus:  item.detectionStatus,
			Complete:         item.complete(required),
		}
		if c, ok := item.DetectionConfidence(); ok {
			is.DetectionConfidence = &c
		}
		snap.Items = append(snap.Items, is)
	}
	return snap
}
