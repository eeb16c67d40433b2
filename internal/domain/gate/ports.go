// Package gate models a verification session at a physical checkpoint: which
// safety items must be evidenced, by which channels, and how partial evidence
// turns into an outcome.
package gate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Frame is a captured camera image.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Empty reports whether the frame carries no image.
func (f Frame) Empty() bool { return len(f.Data) == 0 }

// AttendanceRequest is sent once per resolved identity per session.
type AttendanceRequest struct {
	SessionID uuid.UUID
	GateID    string
	SiteID    string
	Identity  Identity
	Frame     Frame
}

// AttendanceRecorder marks a recognised person present at the site.
type AttendanceRecorder interface {
	RecordAttendance(ctx context.Context, req AttendanceRequest) error
}

// AuditRepository persists override audit records.
type AuditRepository interface {
	SaveOverride(ctx context.Context, rec AuditRecord) error
	ListOverrides(ctx context.Context, gateID string, limit int) ([]AuditRecord, error)
}
