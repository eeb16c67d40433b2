package gate

import "fmt"

// OverallStatus is the verification outcome state of a gate.
type OverallStatus string

const (
	// StatusIdle indicates no session is running.
	StatusIdle OverallStatus = "IDLE"

	// StatusVerifying indicates a session is collecting evidence.
	StatusVerifying OverallStatus = "VERIFYING"

	// StatusPassed indicates every required check passed, or a supervisor
	// approved a partial result.
	StatusPassed OverallStatus = "PASSED"

	// StatusFailed indicates no item was complete when the session ended.
	StatusFailed OverallStatus = "FAILED"

	// StatusWarning indicates a partial result eligible for override.
	StatusWarning OverallStatus = "WARNING"
)

func (s OverallStatus) String() string { return string(s) }

// IsTerminal reports whether the session has reached an outcome.
func (s OverallStatus) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusWarning
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s OverallStatus) ValidateTransition(target OverallStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid gate status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the gate lifecycle. WARNING is the only
// predecessor of an override-driven PASSED; IDLE is reachable from anywhere
// through reset.
func (s OverallStatus) isValidTransition(target OverallStatus) bool {
	if target == StatusIdle {
		return true
	}
	switch s {
	case StatusIdle:
		return target == StatusVerifying
	case StatusVerifying:
		return target == StatusPassed || target == StatusFailed || target == StatusWarning
	case StatusWarning:
		return target == StatusPassed
	case StatusPassed, StatusFailed:
		return false
	default:
		return false
	}
}
