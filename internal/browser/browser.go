// Package browser defines the wire types exchanged with the browser
// extension bridge and the tab-control surface the daemon drives.
//
// The bridge is a thin browser extension that forwards tab, window focus,
// and idle events over the daemon socket and executes tab commands
// (redirects) pushed back on the same connection. The daemon never talks
// to the browser directly; everything crosses this boundary as JSON.
package browser

import (
	"fmt"
	"net/url"
)

// EventKind identifies a bridge event.
type EventKind string

const (
	// EventTabActivated fires when a tab gains focus within its window.
	EventTabActivated EventKind = "tab_activated"

	// EventTabUpdated fires when the active tab's URL changes.
	EventTabUpdated EventKind = "tab_updated"

	// EventTabLoaded fires when a page finishes loading without an
	// explicit URL-change event (redirects, SPA navigations).
	EventTabLoaded EventKind = "tab_loaded"

	// EventWindowFocus fires when the browser window gains or loses focus.
	EventWindowFocus EventKind = "window_focus"

	// EventIdleState fires when the bridge's idle detector changes state.
	EventIdleState EventKind = "idle_state"

	// EventSnapshot is sent once when the bridge connects, carrying the
	// currently active tab and focus state so the daemon can seed its
	// session state after a cold start.
	EventSnapshot EventKind = "snapshot"
)

// Idle states reported by the bridge. The bridge uses a 60 second
// inactivity threshold before reporting "idle".
const (
	IdleActive = "active"
	IdleIdle   = "idle"
	IdleLocked = "locked"
)

// IdleThresholdSeconds is the bridge-side inactivity threshold.
const IdleThresholdSeconds = 60

// Event is a single bridge event.
type Event struct {
	Kind      EventKind `json:"kind"`
	TabID     int64     `json:"tab_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Focused   *bool     `json:"focused,omitempty"`
	IdleState string    `json:"idle_state,omitempty"`
}

// CommandAction identifies a tab command pushed to the bridge.
type CommandAction string

const (
	// ActionRedirect navigates a tab to a new URL.
	ActionRedirect CommandAction = "redirect"

	// ActionNotify shows a browser-level notification. Used as a fallback
	// when no desktop notification service is reachable.
	ActionNotify CommandAction = "notify"
)

// Command is a daemon-to-bridge instruction.
type Command struct {
	Action  CommandAction `json:"action"`
	TabID   int64         `json:"tab_id,omitempty"`
	URL     string        `json:"url,omitempty"`
	Title   string        `json:"title,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Controller is the tab-control surface used by the tracker and the
// enforcement evaluator. The IPC layer implements it against the connected
// bridge; tests substitute fakes.
type Controller interface {
	// TabURL resolves the current URL of a tab. Returns an error if the
	// tab is gone (closed mid-operation) or no bridge is connected.
	TabURL(tabID int64) (string, error)

	// Redirect navigates a tab to the given URL.
	Redirect(tabID int64, targetURL string) error
}

// BlockPagePath is the extension-relative path of the block page.
const BlockPagePath = "blocked/index.html"

// BlockPageURL builds the block-page redirect target carrying the original
// URL as the "from" parameter.
func BlockPageURL(originalURL string) string {
	return BlockPageURLAt(BlockPagePath, originalURL)
}

// BlockPageURLAt is BlockPageURL with a configurable block page path.
func BlockPageURLAt(path, originalURL string) string {
	return fmt.Sprintf("%s?from=%s", path, url.QueryEscape(originalURL))
}
