package detection

import (
	"sync"
	"time"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

// FrameStore holds the most recent camera frame. Frames older than maxAge are
// not handed out so a frozen camera does not keep producing evidence.
type FrameStore struct {
	mu     sync.RWMutex
	frame  gate.Frame
	maxAge time.Duration

	timeProvider timeutil.Provider
}

// NewFrameStore creates an empty store. A maxAge of zero disables expiry.
func NewFrameStore(maxAge time.Duration, tp timeutil.Provider) *FrameStore {
	if tp == nil {
		tp = timeutil.Default()
	}
	return &FrameStore{maxAge: maxAge, timeProvider: tp}
}

// Put replaces the current frame. A zero CapturedAt is stamped with the
// current time.
func (s *FrameStore) Put(frame gate.Frame) {
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = s.timeProvider.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

// Latest returns the current frame if one is available and fresh.
func (s *FrameStore) Latest() (gate.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame.Empty() {
		return gate.Frame{}, false
	}
	if s.maxAge > 0 && s.timeProvider.Now().Sub(s.frame.CapturedAt) > s.maxAge {
		return gate.Frame{}, false
	}
	return s.frame, true
}
