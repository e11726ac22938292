package enforce

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabward/internal/clock"
	"tabward/internal/session"
	"tabward/internal/store"
)

var base = time.Date(2025, 6, 18, 15, 0, 0, 0, time.Local)

// ============================================================================
// Fakes
// ============================================================================

type redirectCall struct {
	tabID int64
	url   string
}

type fakeController struct {
	mu        sync.Mutex
	urls      map[int64]string
	redirects []redirectCall
}

func (f *fakeController) TabURL(tabID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.urls[tabID]
	if !ok {
		return "", errors.New("no such tab")
	}
	return u, nil
}

func (f *fakeController) Redirect(tabID int64, targetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects = append(f.redirects, redirectCall{tabID, targetURL})
	return nil
}

func (f *fakeController) redirected() []redirectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]redirectCall(nil), f.redirects...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeNotifier) Notify(title, body string) error {
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) Close() error { return nil }

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

type fixedCategories map[string]string

func (c fixedCategories) Category(d string) string {
	if cat, ok := c[d]; ok {
		return cat
	}
	return store.DefaultCategory
}

type harness struct {
	eval       *Evaluator
	state      *session.State
	store      *store.Store
	ctrl       *fakeController
	notifier   *fakeNotifier
	clock      *clock.Fake
	flushCount int
}

func newHarness(t *testing.T, categories fixedCategories) *harness {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		state:    session.NewState(),
		store:    st,
		ctrl:     &fakeController{urls: map[int64]string{}},
		notifier: &fakeNotifier{},
		clock:    clock.NewFake(base),
	}
	h.eval = New(Options{
		State:      h.state,
		Store:      st,
		Controller: h.ctrl,
		Notifier:   h.notifier,
		Categories: categories,
		Clock:      h.clock,
		ForceFlush: func() { h.flushCount++ },
	})
	return h
}

// activate puts the harness on d with tab 1 showing url.
func (h *harness) activate(d, url string) {
	h.ctrl.urls[1] = url
	h.state.SetActiveTab(1)
	h.state.SetDomain(d, h.clock.Now())
	h.state.SetFocused(true)
}

func (h *harness) addLimit(t *testing.T, tt store.TargetType, target string, minutes int) int64 {
	t.Helper()
	id, err := h.store.AddLimit(store.Limit{
		TargetType:   tt,
		TargetID:     target,
		Timeframe:    store.Daily,
		LimitMinutes: minutes,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) addUsage(t *testing.T, d string, seconds int64) {
	t.Helper()
	require.NoError(t, h.store.AppendUsage(d, seconds, store.DateKey(h.clock.Now())))
}

// ============================================================================
// Warnings
// ============================================================================

func TestOneMinuteWarningFiresOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 590) // 9m50s of a 10m cap
	h.activate("example.com", "https://example.com/page")

	h.eval.Evaluate("example.com")
	h.eval.Evaluate("example.com")
	h.eval.Evaluate("example.com")

	assert.Equal(t, []string{"Less than a minute left on example.com"}, h.notifier.sent())
	assert.Empty(t, h.ctrl.redirected(), "under the cap, no block")
}

func TestGeneralWarningFiresOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 30)
	h.addUsage(t, "example.com", 26*60) // 4 minutes remaining
	h.activate("example.com", "https://example.com")

	h.eval.Evaluate("example.com")
	h.eval.Evaluate("example.com")

	assert.Equal(t, []string{"About 4 minutes left on example.com"}, h.notifier.sent())
}

func TestNoWarningFarFromCap(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 60)
	h.addUsage(t, "example.com", 10*60) // 50 minutes remaining
	h.activate("example.com", "https://example.com")

	h.eval.Evaluate("example.com")

	assert.Empty(t, h.notifier.sent())
}

func TestTiersFireIndependently(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.activate("example.com", "https://example.com")

	h.addUsage(t, "example.com", 5*60) // 5 minutes remaining
	h.eval.Evaluate("example.com")
	h.addUsage(t, "example.com", 270) // 30 seconds remaining
	h.eval.Evaluate("example.com")

	assert.Equal(t, []string{
		"About 5 minutes left on example.com",
		"Less than a minute left on example.com",
	}, h.notifier.sent())
}

// ============================================================================
// Blocking
// ============================================================================

func TestBlockRedirectsActiveTab(t *testing.T) {
	h := newHarness(t, nil)
	limitID := h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("example.com", "https://example.com/watch?v=abc")

	h.eval.Evaluate("example.com")

	redirects := h.ctrl.redirected()
	require.Len(t, redirects, 1)
	assert.Equal(t, int64(1), redirects[0].tabID)
	assert.Equal(t, "blocked/index.html?from=https%3A%2F%2Fexample.com%2Fwatch%3Fv%3Dabc", redirects[0].url)

	last, err := h.store.Preference(store.PrefLastBlockedDomain)
	require.NoError(t, err)
	assert.Equal(t, "example.com", last)

	events, err := h.store.BlockEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "example.com", events[0].Domain)
	assert.Equal(t, limitID, events[0].LimitID)
}

func TestBlockSkippedWhenDomainLeft(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("other.example", "https://other.example")

	h.eval.Evaluate("example.com")

	assert.Empty(t, h.ctrl.redirected())
}

func TestBlockSkippedWhenTabClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("example.com", "https://example.com")
	delete(h.ctrl.urls, 1)

	h.eval.Evaluate("example.com")

	assert.Empty(t, h.ctrl.redirected())
	events, err := h.store.BlockEvents(10)
	require.NoError(t, err)
	assert.Empty(t, events, "no event recorded when no redirect happened")
}

func TestBlockHonorsImmediateBlockingOff(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("example.com", "https://example.com")
	require.NoError(t, h.store.SetPreference(store.PrefImmediateBlocking, "false"))

	h.eval.Evaluate("example.com")

	assert.Empty(t, h.ctrl.redirected())
}

func TestBlockRearmsWarnings(t *testing.T) {
	h := newHarness(t, nil)
	limitID := h.addLimit(t, store.TargetSite, "example.com", 10)
	h.activate("example.com", "https://example.com")

	h.addUsage(t, "example.com", 590)
	h.eval.Evaluate("example.com")
	require.Len(t, h.notifier.sent(), 1)

	// Cross the cap: block clears the ledger.
	h.addUsage(t, "example.com", 10)
	h.eval.Evaluate("example.com")
	require.Len(t, h.ctrl.redirected(), 1)

	// A fresh episode (say, next day after reset or a raised cap) warns
	// again because the ledger was re-armed.
	assert.False(t, h.eval.ledger.Fired("example.com", tierOneMinute, limitID))
}

func TestSubdomainBlockedByParentLimit(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "youtube.com", 10)
	h.addUsage(t, "music.youtube.com", 600)
	h.activate("music.youtube.com", "https://music.youtube.com")

	h.eval.Evaluate("music.youtube.com")

	assert.Len(t, h.ctrl.redirected(), 1)
}

func TestCategoryLimitBlocks(t *testing.T) {
	cats := fixedCategories{"youtube.com": "Video", "netflix.com": "Video"}
	h := newHarness(t, cats)
	h.addLimit(t, store.TargetCategory, "Video", 30)
	// Category usage pools across member domains.
	require.NoError(t, h.store.SetCategory("youtube.com", "Video"))
	require.NoError(t, h.store.SetCategory("netflix.com", "Video"))
	h.addUsage(t, "youtube.com", 20*60)
	h.addUsage(t, "netflix.com", 10*60)
	h.activate("youtube.com", "https://youtube.com")

	h.eval.Evaluate("youtube.com")

	assert.Len(t, h.ctrl.redirected(), 1)
}

// ============================================================================
// Snooze
// ============================================================================

func TestSnoozeSuppressesEnforcement(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("example.com", "https://example.com")

	require.NoError(t, h.store.SetSnoozeUntil(base.Add(5*time.Minute)))

	h.eval.Evaluate("example.com")
	assert.Empty(t, h.ctrl.redirected())

	// Still inside the grace buffer just past the deadline.
	h.clock.Set(base.Add(5*time.Minute + time.Second))
	h.eval.Evaluate("example.com")
	assert.Empty(t, h.ctrl.redirected())

	// Past deadline plus buffer: enforcement resumes.
	h.clock.Set(base.Add(5*time.Minute + DefaultSnoozeBuffer + time.Second))
	h.eval.Evaluate("example.com")
	assert.Len(t, h.ctrl.redirected(), 1)
}

func TestFastCheckSnoozeBufferIsWider(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("example.com", "https://example.com")

	require.NoError(t, h.store.SetSnoozeUntil(base.Add(5*time.Minute)))

	// Past the normal buffer but inside the fast-check extension.
	h.clock.Set(base.Add(5*time.Minute + DefaultSnoozeBuffer + time.Second))
	h.state.SetDomain("example.com", h.clock.Now())
	h.eval.FastCheck()
	assert.Empty(t, h.ctrl.redirected())

	h.clock.Set(base.Add(5*time.Minute + DefaultSnoozeBuffer + FastCheckInterval + time.Second))
	h.eval.FastCheck()
	assert.Len(t, h.ctrl.redirected(), 1)
}

// ============================================================================
// Fast check
// ============================================================================

func TestFastCheckProjectsLiveTime(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 9*60) // 9 minutes committed
	h.activate("example.com", "https://example.com")

	// 50 seconds of live time: projected 9m50s, still under.
	h.clock.Advance(50 * time.Second)
	h.eval.FastCheck()
	assert.Empty(t, h.ctrl.redirected())
	assert.Zero(t, h.flushCount)

	// 70 seconds of live time: projected 10m10s, over the cap.
	h.clock.Advance(20 * time.Second)
	h.eval.FastCheck()
	assert.Len(t, h.ctrl.redirected(), 1)
	assert.Equal(t, 1, h.flushCount, "usage made durable before the block")
	assert.Empty(t, h.notifier.sent(), "fast path never warns")
}

func TestFastCheckIncludesPendingIncrement(t *testing.T) {
	h := newHarness(t, nil)
	h.eval.pending = func() (string, int64) { return "example.com", 65 }
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 9*60)
	h.activate("example.com", "https://example.com")

	h.eval.FastCheck()

	assert.Len(t, h.ctrl.redirected(), 1)
}

func TestFastCheckIdleWhenNothingTracked(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)

	h.eval.FastCheck()

	assert.Empty(t, h.ctrl.redirected())
}

func TestFastCheckSkipsUnfocusedWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.addLimit(t, store.TargetSite, "example.com", 10)
	h.addUsage(t, "example.com", 600)
	h.activate("example.com", "https://example.com")
	h.state.SetFocused(false)

	h.eval.FastCheck()

	assert.Empty(t, h.ctrl.redirected())
}
