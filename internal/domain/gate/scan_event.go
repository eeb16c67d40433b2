package gate

import (
	"time"

	"github.com/google/uuid"
)

// ScanSource names where a ScanEvent came from.
type ScanSource string

const (
	// ScanSourceBridge is the live tag reader bridge.
	ScanSourceBridge ScanSource = "bridge"
	// ScanSourceManual is an operator key press or a simulator.
	ScanSourceManual ScanSource = "manual"
)

// ScanEvent is a single tag observation. It is immutable; the engine applies
// each evidence ID at most once per session.
type ScanEvent struct {
	evidenceID string
	kind       ItemKind
	observedAt time.Time
	source     ScanSource
}

// NewScanEvent creates a ScanEvent with a fresh evidence ID.
func NewScanEvent(kind ItemKind, source ScanSource, observedAt time.Time) ScanEvent {
	return ScanEvent{
		evidenceID: uuid.NewString(),
		kind:       kind,
		observedAt: observedAt,
		source:     source,
	}
}

// ReconstructScanEvent rebuilds a ScanEvent whose evidence ID was assigned elsewhere.
func ReconstructScanEvent(evidenceID string, kind ItemKind, source ScanSource, observedAt time.Time) ScanEvent {
	return ScanEvent{evidenceID: evidenceID, kind: kind, observedAt: observedAt, source: source}
}

// EvidenceID returns the unique identifier of this observation.
func (e ScanEvent) EvidenceID() string { return e.evidenceID }

// Kind returns the observed item kind.
func (e ScanEvent) Kind() ItemKind { return e.kind }

// ObservedAt returns when the observation was made.
func (e ScanEvent) ObservedAt() time.Time { return e.observedAt }

// Source returns where the observation came from.
func (e ScanEvent) Source() ScanSource { return e.source }
