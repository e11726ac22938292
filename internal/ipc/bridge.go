package ipc

import (
	"errors"
	"fmt"

	"tabward/internal/browser"
)

// BridgeController implements browser.Controller against the connected
// extension bridge. Every call crosses the socket; when no bridge is
// connected the calls fail fast and the callers degrade gracefully.
type BridgeController struct {
	server *Server
}

// NewBridgeController wraps the server's bridge connection.
func NewBridgeController(s *Server) *BridgeController {
	return &BridgeController{server: s}
}

// TabURL asks the bridge for a tab's current URL.
func (b *BridgeController) TabURL(tabID int64) (string, error) {
	msg, err := b.server.RequestBridge(MsgTabURLRequest, &TabURLRequest{TabID: tabID})
	if err != nil {
		return "", fmt.Errorf("tab url request: %w", err)
	}

	var resp TabURLResponse
	if err := Decode(msg.Payload, &resp); err != nil {
		return "", fmt.Errorf("decode tab url response: %w", err)
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.URL, nil
}

// Redirect navigates a tab to targetURL.
func (b *BridgeController) Redirect(tabID int64, targetURL string) error {
	cmd := &browser.Command{
		Action: browser.ActionRedirect,
		TabID:  tabID,
		URL:    targetURL,
	}
	if _, err := b.server.RequestBridge(MsgBridgeCommand, cmd); err != nil {
		return fmt.Errorf("redirect command: %w", err)
	}
	return nil
}

// Notify shows a browser-level notification via the bridge. Used as a
// fallback when no desktop notification service is reachable.
func (b *BridgeController) Notify(title, message string) error {
	cmd := &browser.Command{
		Action:  browser.ActionNotify,
		Title:   title,
		Message: message,
	}
	if err := b.server.NotifyBridge(MsgBridgeCommand, cmd); err != nil {
		return fmt.Errorf("notify command: %w", err)
	}
	return nil
}

// Close satisfies notify.Notifier so the controller can double as the
// warning channel.
func (b *BridgeController) Close() error { return nil }
