// Package session owns the canonical "what is the user doing right now"
// state and the tracker that mutates it from browser events.
//
// One State exists per process. It is rebuilt from a bridge snapshot on
// cold start and never persisted. The invariant throughout: a checkpoint
// is set if and only if an active domain is set.
package session

import (
	"sync"
	"time"
)

// NoTab marks the absence of an active tab.
const NoTab int64 = -1

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	ActiveTabID    int64     `json:"active_tab_id"`
	ActiveDomain   string    `json:"active_domain"`
	LastCheckpoint time.Time `json:"last_checkpoint"`
	WindowFocused  bool      `json:"window_focused"`
}

// State is the mutable session state, shared by the tracker, committer,
// and evaluator. All mutation goes through its methods.
type State struct {
	mu             sync.Mutex
	activeTabID    int64
	activeDomain   string
	lastCheckpoint time.Time
	windowFocused  bool
}

// NewState returns an empty state: no tab, no domain, unfocused.
func NewState() *State {
	return &State{activeTabID: NoTab}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ActiveTabID:    s.activeTabID,
		ActiveDomain:   s.activeDomain,
		LastCheckpoint: s.lastCheckpoint,
		WindowFocused:  s.windowFocused,
	}
}

// ActiveDomain returns the currently tracked domain, or "".
func (s *State) ActiveDomain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeDomain
}

// ActiveTab returns the active tab ID, or NoTab.
func (s *State) ActiveTab() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTabID
}

// WindowFocused reports whether the browser window has focus.
func (s *State) WindowFocused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowFocused
}

// SetActiveTab records the active tab ID without touching the domain.
func (s *State) SetActiveTab(tabID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTabID = tabID
}

// SetDomain switches tracking to d and starts a fresh checkpoint at now.
func (s *State) SetDomain(d string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDomain = d
	s.lastCheckpoint = now
}

// ClearDomain stops tracking. The checkpoint clears with the domain.
func (s *State) ClearDomain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDomain = ""
	s.lastCheckpoint = time.Time{}
}

// SetFocused records window focus.
func (s *State) SetFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowFocused = focused
}

// ResetCheckpoint restarts elapsed-time measurement at now. No-op when no
// domain is active, preserving the checkpoint-iff-domain invariant.
func (s *State) ResetCheckpoint(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDomain == "" {
		return
	}
	s.lastCheckpoint = now
}

// Checkpoint returns the active domain and its checkpoint. ok is false
// when nothing is being tracked.
func (s *State) Checkpoint() (d string, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDomain == "" || s.lastCheckpoint.IsZero() {
		return "", time.Time{}, false
	}
	return s.activeDomain, s.lastCheckpoint, true
}
