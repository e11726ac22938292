// Package enforce decides when a domain has exhausted its limits and acts
// on it: tiered warnings as the cap approaches, then a redirect to the
// block page when it is crossed.
//
// Two paths feed the decision. Evaluate runs after domain transitions and
// usage commits and sees only persisted usage. FastCheck runs on a short
// timer and projects live, uncommitted time on top, so a limit crossed
// mid-session is caught within seconds instead of at the next commit.
package enforce

import (
	"fmt"
	"time"

	"tabward/internal/browser"
	"tabward/internal/clock"
	"tabward/internal/domain"
	"tabward/internal/logging"
	"tabward/internal/metrics"
	"tabward/internal/notify"
	"tabward/internal/session"
	"tabward/internal/store"
)

// FastCheckInterval is how often the projection-based check runs.
const FastCheckInterval = 2 * time.Second

// Warning tiers. Each fires at most once per (domain, tier, limit) until a
// block re-arms them.
const (
	// tierOneMinute covers the last minute before the cap.
	tierOneMinute = "1-minute"

	// tierGeneral covers one to ten minutes before the cap.
	tierGeneral = "general"
)

const generalWarningWindow = 10 * time.Minute

// Categorizer resolves a domain's category. Implemented by the classifier.
type Categorizer interface {
	Category(d string) string
}

// Evaluator applies limits to domains.
type Evaluator struct {
	state      *session.State
	store      *store.Store
	ctrl       browser.Controller
	notifier   notify.Notifier
	categories Categorizer
	clock      clock.Clock
	log        *logging.Logger

	// forceFlush persists pending usage before a fast-path block.
	forceFlush func()

	// pending reports the committer's accumulated unwritten increment.
	pending func() (string, int64)

	ledger *ledger
	snooze *snoozeGuard

	blockPage    string
	fastInterval time.Duration
	quit         chan struct{}
	done         chan struct{}
	started      bool
}

// Options configures an Evaluator.
type Options struct {
	State      *session.State
	Store      *store.Store
	Controller browser.Controller
	Notifier   notify.Notifier
	Categories Categorizer
	Clock      clock.Clock
	Log        *logging.Logger
	ForceFlush func()
	Pending    func() (string, int64)

	// BlockPage overrides the extension-relative block page path.
	BlockPage string

	// SnoozeBuffer defaults to DefaultSnoozeBuffer; FastCheckEvery
	// defaults to FastCheckInterval.
	SnoozeBuffer   time.Duration
	FastCheckEvery time.Duration
}

// New builds an Evaluator. Call StartFastCheck to begin the timer path.
func New(opts Options) *Evaluator {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.SnoozeBuffer <= 0 {
		opts.SnoozeBuffer = DefaultSnoozeBuffer
	}
	if opts.FastCheckEvery <= 0 {
		opts.FastCheckEvery = FastCheckInterval
	}
	if opts.ForceFlush == nil {
		opts.ForceFlush = func() {}
	}
	if opts.Pending == nil {
		opts.Pending = func() (string, int64) { return "", 0 }
	}
	if opts.BlockPage == "" {
		opts.BlockPage = browser.BlockPagePath
	}
	return &Evaluator{
		state:      opts.State,
		store:      opts.Store,
		ctrl:       opts.Controller,
		notifier:   opts.Notifier,
		categories: opts.Categories,
		clock:      opts.Clock,
		log:        opts.Log.WithComponent("enforce"),
		forceFlush: opts.ForceFlush,
		pending:    opts.Pending,
		ledger:     newLedger(),
		snooze: &snoozeGuard{
			store:      opts.Store,
			buffer:     opts.SnoozeBuffer,
			fastPeriod: opts.FastCheckEvery,
		},
		blockPage:    opts.BlockPage,
		fastInterval: opts.FastCheckEvery,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// limitStanding is one applicable limit with its remaining allowance.
type limitStanding struct {
	limit     store.Limit
	remaining int64
}

// Evaluate re-checks all limits applicable to d against persisted usage,
// emitting tier warnings and executing a block when a cap is exhausted.
// Storage and delivery failures degrade to a no-op; the next evaluation
// retries.
func (e *Evaluator) Evaluate(d string) {
	if d == "" {
		return
	}
	now := e.clock.Now()

	if suppressed, err := e.snooze.Suppressed(now); err != nil {
		e.log.Warn("snooze lookup failed", "error", err)
		return
	} else if suppressed {
		return
	}

	standings, err := e.standings(d, now, 0)
	if err != nil {
		e.log.Warn("limit evaluation failed", "domain", d, "error", err)
		return
	}

	var blocking *store.Limit
	for _, s := range standings {
		if s.remaining <= 0 {
			l := s.limit
			blocking = &l
			break
		}
		e.warn(d, s)
	}

	if blocking != nil {
		e.block(d, *blocking, now)
	}
}

// FastCheck projects live uncommitted time onto the active domain's limits
// and blocks immediately when a cap is crossed. It never warns; warnings
// stay on the commit-driven path.
func (e *Evaluator) FastCheck() {
	now := e.clock.Now()

	if suppressed, err := e.snooze.SuppressedFast(now); err != nil {
		e.log.Warn("snooze lookup failed", "error", err)
		return
	} else if suppressed {
		return
	}

	if !e.state.WindowFocused() {
		return
	}
	d, at, ok := e.state.Checkpoint()
	if !ok {
		return
	}

	live := int64(now.Sub(at) / time.Second)
	if live < 0 {
		live = 0
	}
	if pd, psecs := e.pending(); pd == d {
		live += psecs
	}

	metrics.FastChecks.Inc()
	standings, err := e.standings(d, now, live)
	if err != nil {
		e.log.Warn("fast check failed", "domain", d, "error", err)
		return
	}

	for _, s := range standings {
		if s.remaining > 0 {
			continue
		}
		// Make the projection durable before acting on it.
		e.forceFlush()
		e.block(d, s.limit, now)
		return
	}
}

// StartFastCheck runs FastCheck on a ticker until Stop.
func (e *Evaluator) StartFastCheck() {
	if e.started {
		return
	}
	e.started = true
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.fastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.FastCheck()
			case <-e.quit:
				return
			}
		}
	}()
}

// Stop halts the fast-check timer.
func (e *Evaluator) Stop() {
	if !e.started {
		return
	}
	close(e.quit)
	<-e.done
}

// standings computes remaining allowance for each limit applicable to d,
// with extra seconds of live time projected onto every applicable target.
func (e *Evaluator) standings(d string, now time.Time, extra int64) ([]limitStanding, error) {
	all, err := e.store.AllLimits()
	if err != nil {
		return nil, fmt.Errorf("load limits: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	category := store.DefaultCategory
	if e.categories != nil {
		category = e.categories.Category(d)
	}

	var standings []limitStanding
	for _, l := range all {
		switch l.TargetType {
		case store.TargetSite:
			if !domain.Matches(l.TargetID, d) {
				continue
			}
		case store.TargetCategory:
			if l.TargetID != category {
				continue
			}
		default:
			continue
		}

		usage, err := e.store.UsageSecondsForTarget(l.TargetType, l.TargetID, l.Timeframe, now)
		if err != nil {
			return nil, fmt.Errorf("usage for %s %q: %w", l.TargetType, l.TargetID, err)
		}
		standings = append(standings, limitStanding{
			limit:     l,
			remaining: l.LimitSeconds() - usage - extra,
		})
	}
	return standings, nil
}

// warn emits at most one notification per tier per limit for the domain.
func (e *Evaluator) warn(d string, s limitStanding) {
	var tier, body string
	switch {
	case s.remaining <= 60:
		tier = tierOneMinute
		body = fmt.Sprintf("Less than a minute left on %s", d)
	case s.remaining <= int64(generalWarningWindow/time.Second):
		tier = tierGeneral
		minutes := (s.remaining + 59) / 60
		body = fmt.Sprintf("About %d minutes left on %s", minutes, d)
	default:
		return
	}

	if e.ledger.Fired(d, tier, s.limit.ID) {
		return
	}
	e.ledger.Mark(d, tier, s.limit.ID)

	if err := e.notifier.Notify("Time limit approaching", body); err != nil {
		e.log.Warn("warning delivery failed", "domain", d, "tier", tier, "error", err)
	}
	metrics.Warnings.Inc()
	e.log.Info("limit warning", "domain", d, "tier", tier, "limit_id", s.limit.ID, "remaining_s", s.remaining)
}

// block executes a block of d under l: re-arms the warning ledger, and when
// immediate blocking is on and d is still the active domain, redirects the
// active tab to the block page and records the event.
func (e *Evaluator) block(d string, l store.Limit, now time.Time) {
	e.ledger.ClearDomain(d)

	immediate, err := e.store.ImmediateBlocking()
	if err != nil {
		e.log.Warn("immediate-blocking lookup failed", "error", err)
		immediate = true
	}
	if !immediate {
		e.log.Info("limit exhausted, immediate blocking off", "domain", d, "limit_id", l.ID)
		return
	}
	if d != e.state.ActiveDomain() {
		// The user already left; nothing to redirect. The block re-applies
		// the moment the domain activates again.
		return
	}

	tabID := e.state.ActiveTab()
	original, err := e.ctrl.TabURL(tabID)
	if err != nil {
		// Tab closed mid-block or bridge gone; skip quietly.
		e.log.Debug("block skipped, tab unavailable", "domain", d, "tab", tabID, "error", err)
		return
	}

	if err := e.ctrl.Redirect(tabID, browser.BlockPageURLAt(e.blockPage, original)); err != nil {
		e.log.Warn("block redirect failed", "domain", d, "tab", tabID, "error", err)
		return
	}

	if err := e.store.SetPreference(store.PrefLastBlockedDomain, d); err != nil {
		e.log.Warn("last-blocked preference write failed", "error", err)
	}
	if err := e.store.RecordBlockEvent(d, l.ID, now); err != nil {
		e.log.Warn("block event write failed", "error", err)
	}
	metrics.Blocks.Inc()
	e.log.Info("domain blocked", "domain", d, "limit_id", l.ID, "tab", tabID)
}
