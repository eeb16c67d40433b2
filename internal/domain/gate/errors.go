package gate

import (
	"errors"
	"fmt"
)

// ValidationError is returned synchronously to the caller when a request is
// malformed. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

var (
	// ErrInvalidTarget is returned when a session is started without a gate or site.
	ErrInvalidTarget = &ValidationError{Field: "gate_id/site_id", Reason: "gate and site identifiers are required"}

	// ErrEmptyReason is returned when an override carries no justification.
	ErrEmptyReason = &ValidationError{Field: "reason", Reason: "override reason must not be empty"}

	// ErrOverrideUnavailable is returned when an override is requested outside WARNING.
	ErrOverrideUnavailable = &ValidationError{Field: "status", Reason: "override is only available for a WARNING outcome"}
)

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ChannelError describes a tag bridge that could not be reached. It is
// recovered by reconnecting and is only ever surfaced as a connection state.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("tag channel %s: %v", e.Op, e.Err) }

func (e *ChannelError) Unwrap() error { return e.Err }

// DetectionRequestError describes a failed classification request. The poller
// logs it and tries again on its next tick.
type DetectionRequestError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DetectionRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("detection endpoint %s returned status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("detection endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *DetectionRequestError) Unwrap() error { return e.Err }

// Reasons an event is dropped. None of these are faults; callers log and move on.
var (
	ErrStaleResponse        = errors.New("response belongs to a superseded session")
	ErrNoActiveSession      = errors.New("no active verification session")
	ErrUnknownItemKind      = errors.New("unknown item kind")
	ErrSessionClosed        = errors.New("session is not verifying")
	ErrDuplicateEvidence    = errors.New("evidence already applied")
	ErrChannelAlreadyPassed = errors.New("channel already passed")
	ErrChannelNotRequired   = errors.New("channel not required for item")
	ErrBelowThreshold       = errors.New("confidence below threshold")
	ErrIdentityResolved     = errors.New("identity already resolved")
)
