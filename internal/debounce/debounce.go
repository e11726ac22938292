// Package debounce provides a single-slot debounce timer.
//
// Both the usage committer and the category classifier want "run this
// soon, but only the latest request". Slot holds that pattern: scheduling
// replaces any pending run, so at most one action of a given kind is ever
// outstanding.
package debounce

import (
	"sync"
	"time"
)

// Slot holds at most one pending timer.
type Slot struct {
	mu    sync.Mutex
	timer *time.Timer
}

// New returns an empty Slot.
func New() *Slot {
	return &Slot{}
}

// Schedule cancels any pending run and schedules fn after delay.
func (s *Slot) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the pending run, if any. Returns true if a run was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return false
	}
	stopped := s.timer.Stop()
	s.timer = nil
	return stopped
}

// Pending reports whether a run is currently scheduled.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
