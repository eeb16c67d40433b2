package gate

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord documents a supervisor override of a partial result. It is a
// value type; callers receive copies.
type AuditRecord struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	GateID       string    `json:"gate_id"`
	SiteID       string    `json:"site_id"`
	PassedChecks int       `json:"passed_checks"`
	TotalChecks  int       `json:"total_checks"`
	Reason       string    `json:"reason"`
	Operator     string    `json:"operator,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
