// Package timeutil provides an injectable source of the current time so that
// time dependent components can be tested deterministically.
package timeutil

import (
	"sync"
	"time"
)

// Provider returns the current time.
type Provider interface {
	Now() time.Time
}

type realProvider struct{}

func (realProvider) Now() time.Time { return time.Now().UTC() }

// Default returns a Provider backed by the system clock (UTC).
func Default() Provider { return realProvider{} }

// Mock is a Provider whose time only moves when told to.
type Mock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// NewMock returns a Mock pinned at t.
func NewMock(t time.Time) *Mock { return &Mock{CurrentTime: t} }

// Now returns the pinned time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

// Advance moves the pinned time forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}
