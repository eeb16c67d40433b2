package gate

import "fmt"

// ChannelStatus is the state of one evidence channel for one item.
type ChannelStatus string

const (
	// ChannelStatusPending indicates the channel has not been armed yet.
	ChannelStatusPending ChannelStatus = "PENDING"

	// ChannelStatusChecking indicates the session is waiting for evidence.
	ChannelStatusChecking ChannelStatus = "CHECKING"

	// ChannelStatusPassed indicates accepted evidence was received.
	ChannelStatusPassed ChannelStatus = "PASSED"

	// ChannelStatusFailed indicates no accepted evidence arrived in time.
	ChannelStatusFailed ChannelStatus = "FAILED"
)

func (s ChannelStatus) String() string { return string(s) }

// validateTransition checks if a status transition is valid and returns an error if not.
func (s ChannelStatus) validateTransition(target ChannelStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid channel status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the channel lifecycle. A failed channel may still
// pass on late evidence; only a passed channel is locked.
func (s ChannelStatus) isValidTransition(target ChannelStatus) bool {
	switch s {
	case ChannelStatusPending:
		return target == ChannelStatusChecking
	case ChannelStatusChecking:
		return target == ChannelStatusPassed || target == ChannelStatusFailed
	case ChannelStatusFailed:
		return target == ChannelStatusPassed
	case ChannelStatusPassed:
		return false
	default:
		return false
	}
}
