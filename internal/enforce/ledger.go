package enforce

import "sync"

// warningKey identifies one warning emission: a tier of one limit against
// one domain.
type warningKey struct {
	domain  string
	tier    string
	limitID int64
}

// ledger tracks which warnings have already fired so each (domain, tier,
// limit) triple warns at most once per enforcement episode. A block clears
// the domain's entries, re-arming the warnings for the next window.
type ledger struct {
	mu    sync.Mutex
	fired map[warningKey]struct{}
}

func newLedger() *ledger {
	return &ledger{fired: make(map[warningKey]struct{})}
}

// Fired reports whether the warning already went out.
func (l *ledger) Fired(domain, tier string, limitID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.fired[warningKey{domain, tier, limitID}]
	return ok
}

// Mark records that the warning went out.
func (l *ledger) Mark(domain, tier string, limitID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fired[warningKey{domain, tier, limitID}] = struct{}{}
}

// ClearDomain re-arms all warnings for a domain.
func (l *ledger) ClearDomain(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.fired {
		if k.domain == domain {
			delete(l.fired, k)
		}
	}
}
