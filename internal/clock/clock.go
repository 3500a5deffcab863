package clock

import (
	"sync"
	"time"
)

// Clock abstracts the current time so expiry checks can be tested.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time at microsecond precision, the finest
// precision PostgreSQL keeps. Instants derived from it round-trip exactly
// through every store.
func (Real) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Manual provides a controllable clock for deterministic tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves time forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set jumps the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
