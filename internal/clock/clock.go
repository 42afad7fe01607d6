// Package clock provides the time sources the crawl engine stamps runs,
// outcomes and events with.
package clock

import (
	"sync"
	"time"
)

// System reads the wall clock in UTC at microsecond precision, the
// resolution Postgres keeps for timestamptz. Timestamps recorded by the
// memory and postgres journals therefore compare equal.
type System struct{}

// NewSystem returns the wall clock.
func NewSystem() System {
	return System{}
}

// Now implements crawler.Clock.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock frozen at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now implements crawler.Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
