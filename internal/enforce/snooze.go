package enforce

import (
	"time"

	"tabward/internal/store"
)

// DefaultSnoozeBuffer pads the snooze deadline so an evaluation racing the
// deadline cannot block the user a heartbeat early.
const DefaultSnoozeBuffer = 2 * time.Second

// snoozeGuard answers "is enforcement currently suppressed". The snooze
// deadline lives in the store; the guard adds the grace buffer on top.
//
// The fast-check path gets a wider buffer: it samples live elapsed time, so
// a plain buffer would let the check that lands right after the deadline
// see time accrued during the snooze and block instantly. Widening by one
// fast-check period gives the committer a full cycle to settle first.
type snoozeGuard struct {
	store      *store.Store
	buffer     time.Duration
	fastPeriod time.Duration
}

// Suppressed reports whether normal enforcement is snoozed at now.
func (g *snoozeGuard) Suppressed(now time.Time) (bool, error) {
	until, err := g.store.SnoozeUntil()
	if err != nil {
		return false, err
	}
	if until.IsZero() {
		return false, nil
	}
	return now.Before(until.Add(g.buffer)), nil
}

// SuppressedFast reports whether the fast-check path is snoozed at now.
func (g *snoozeGuard) SuppressedFast(now time.Time) (bool, error) {
	until, err := g.store.SnoozeUntil()
	if err != nil {
		return false, err
	}
	if until.IsZero() {
		return false, nil
	}
	return now.Before(until.Add(g.buffer + g.fastPeriod)), nil
}
