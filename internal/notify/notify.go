// Package notify delivers usage warnings to the desktop.
//
// The primary implementation speaks org.freedesktop.Notifications over the
// session bus. When no bus is reachable (headless session, macOS without a
// notification shim) the daemon falls back to a no-op notifier and the
// bridge's browser-level notifications carry the warnings instead.
package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Notifier shows a transient warning to the user.
type Notifier interface {
	Notify(title, body string) error
	Close() error
}

const (
	notifyInterface = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyMethod    = "org.freedesktop.Notifications.Notify"

	// expireTimeoutMs controls how long the notification stays visible.
	expireTimeoutMs = 10000
)

// DBusNotifier sends desktop notifications over the session bus.
type DBusNotifier struct {
	conn *dbus.Conn
}

// NewDBus connects to the session bus. Returns an error if no session bus
// is available; callers should fall back to Nop.
func NewDBus() (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusNotifier{conn: conn}, nil
}

// Notify shows a desktop notification.
func (n *DBusNotifier) Notify(title, body string) error {
	obj := n.conn.Object(notifyInterface, dbus.ObjectPath(notifyPath))
	call := obj.Call(notifyMethod, 0,
		"tabward",          // app_name
		uint32(0),          // replaces_id
		"appointment-soon", // app_icon
		title,
		body,
		[]string{},               // actions
		map[string]dbus.Variant{}, // hints
		int32(expireTimeoutMs),
	)
	if call.Err != nil {
		return fmt.Errorf("send notification: %w", call.Err)
	}
	return nil
}

// Close drops the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// Nop is a Notifier that does nothing.
type Nop struct{}

func (Nop) Notify(title, body string) error { return nil }
func (Nop) Close() error                    { return nil }

// Best returns a DBus notifier when a session bus is reachable, otherwise
// a Nop.
func Best() Notifier {
	n, err := NewDBus()
	if err != nil {
		return Nop{}
	}
	return n
}
