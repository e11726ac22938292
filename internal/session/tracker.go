package session

import (
	"tabward/internal/browser"
	"tabward/internal/clock"
	"tabward/internal/domain"
	"tabward/internal/logging"
	"tabward/internal/metrics"
)

// Flusher commits elapsed time accumulated since the last checkpoint.
// Implemented by the committer.
type Flusher interface {
	Flush()
}

// Evaluator re-checks limits for a domain after a transition or commit.
// Implemented by the enforcement evaluator.
type Evaluator interface {
	Evaluate(d string)
}

// Enqueuer schedules a domain for background classification.
type Enqueuer interface {
	Enqueue(d string)
}

// Tracker consumes bridge events and drives the session state machine.
// Events are processed one at a time on a dedicated goroutine, so state
// transitions never race each other.
type Tracker struct {
	state     *State
	ctrl      browser.Controller
	flusher   Flusher
	evaluator Evaluator
	enqueuer  Enqueuer
	clock     clock.Clock
	log       *logging.Logger

	events chan browser.Event
	quit   chan struct{}
	done   chan struct{}
}

// TrackerOptions wires the tracker's collaborators.
type TrackerOptions struct {
	State      *State
	Controller browser.Controller
	Flusher    Flusher
	Evaluator  Evaluator
	Enqueuer   Enqueuer
	Clock      clock.Clock
	Log        *logging.Logger
}

// NewTracker builds a tracker. Call Start to begin consuming events.
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	return &Tracker{
		state:     opts.State,
		ctrl:      opts.Controller,
		flusher:   opts.Flusher,
		evaluator: opts.Evaluator,
		enqueuer:  opts.Enqueuer,
		clock:     opts.Clock,
		log:       opts.Log.WithComponent("session"),
		events:    make(chan browser.Event, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the event loop.
func (t *Tracker) Start() {
	go t.loop()
}

// Stop terminates the event loop. Buffered but undispatched events are
// dropped; the bridge resends a snapshot on reconnect.
func (t *Tracker) Stop() {
	close(t.quit)
	<-t.done
}

// Handle enqueues a bridge event. Drops the event if the tracker has been
// stopped or the queue is saturated.
func (t *Tracker) Handle(ev browser.Event) {
	select {
	case t.events <- ev:
	case <-t.quit:
	default:
		metrics.EventsDropped.Inc()
		t.log.Warn("event queue full, dropping", "kind", ev.Kind)
	}
}

func (t *Tracker) loop() {
	defer close(t.done)
	for {
		select {
		case ev := <-t.events:
			t.dispatch(ev)
		case <-t.quit:
			return
		}
	}
}

func (t *Tracker) dispatch(ev browser.Event) {
	switch ev.Kind {
	case browser.EventTabActivated:
		t.onTabActivated(ev)
	case browser.EventTabUpdated:
		t.onTabUpdated(ev)
	case browser.EventTabLoaded:
		t.onTabLoaded(ev)
	case browser.EventWindowFocus:
		t.onWindowFocus(ev)
	case browser.EventIdleState:
		t.onIdleState(ev)
	case browser.EventSnapshot:
		t.onSnapshot(ev)
	default:
		t.log.Debug("unknown event kind", "kind", ev.Kind)
	}
}

// onTabActivated handles focus moving to a different tab. Time spent on
// the previous domain is flushed before the switch so nothing is lost.
func (t *Tracker) onTabActivated(ev browser.Event) {
	t.flusher.Flush()
	t.state.SetActiveTab(ev.TabID)
	t.switchToURL(ev.TabID, ev.URL)
}

// onTabUpdated handles the active tab navigating to a new URL. Updates on
// background tabs do not affect the session.
func (t *Tracker) onTabUpdated(ev browser.Event) {
	if ev.TabID != t.state.ActiveTab() {
		return
	}
	t.flusher.Flush()
	t.switchToURL(ev.TabID, ev.URL)
}

// onTabLoaded catches navigations that never produced an update event,
// typically redirects and SPA route changes. Only a genuine domain change
// triggers a switch.
func (t *Tracker) onTabLoaded(ev browser.Event) {
	if ev.TabID != t.state.ActiveTab() {
		return
	}
	d := domain.FromURL(ev.URL)
	if d == t.state.ActiveDomain() {
		return
	}
	t.flusher.Flush()
	t.applyDomain(d)
}

func (t *Tracker) onWindowFocus(ev browser.Event) {
	if ev.Focused == nil {
		return
	}
	if *ev.Focused {
		// Focus regained: restart measurement from now so the unfocused
		// gap is never counted.
		t.state.SetFocused(true)
		t.state.ResetCheckpoint(t.clock.Now())
		return
	}
	// Focus lost: commit what was accrued while focused.
	t.state.SetFocused(false)
	t.flusher.Flush()
}

func (t *Tracker) onIdleState(ev browser.Event) {
	switch ev.IdleState {
	case browser.IdleActive:
		t.state.ResetCheckpoint(t.clock.Now())
	default:
		// idle or locked: commit up to the idle transition and stop the
		// clock until the user is active again.
		t.flusher.Flush()
	}
}

// onSnapshot seeds the session after a bridge (re)connect.
func (t *Tracker) onSnapshot(ev browser.Event) {
	if ev.Focused != nil {
		t.state.SetFocused(*ev.Focused)
	}
	t.state.SetActiveTab(ev.TabID)
	t.switchToURL(ev.TabID, ev.URL)
}

// switchToURL resolves the tab's URL (asking the bridge when the event
// carried none) and applies the resulting domain.
func (t *Tracker) switchToURL(tabID int64, rawURL string) {
	if rawURL == "" {
		resolved, err := t.ctrl.TabURL(tabID)
		if err != nil {
			// Tab closed mid-switch or bridge gone. Tracking stops until
			// the next event arrives with a URL.
			t.log.Debug("tab url lookup failed", "tab", tabID, "error", err)
			t.state.ClearDomain()
			return
		}
		rawURL = resolved
	}
	t.applyDomain(domain.FromURL(rawURL))
}

// applyDomain transitions the session to d. An empty domain (internal
// page, invalid host) clears tracking. Re-activating the already-active
// domain keeps the checkpoint so elapsed time keeps accruing.
func (t *Tracker) applyDomain(d string) {
	if d == "" {
		t.state.ClearDomain()
		return
	}

	current := t.state.ActiveDomain()
	if d == current {
		t.evaluator.Evaluate(d)
		return
	}

	t.state.SetDomain(d, t.clock.Now())
	t.log.Debug("domain activated", "domain", d)
	t.enqueuer.Enqueue(d)
	t.evaluator.Evaluate(d)
}
