package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tabward/internal/browser"
	"tabward/internal/store"
)

// ClientConn is a synchronous IPC client used by the control CLI and by
// tests standing in for the bridge.
type ClientConn struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration

	nextID    atomic.Uint32
	sessionID string
}

// Dial connects to the daemon socket and performs the handshake.
func Dial(socketPath string, kind ClientKind, version string, timeout time.Duration) (*ClientConn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	c := &ClientConn{conn: conn, timeout: timeout}

	resp, err := c.Request(MsgHandshake, &HandshakeRequest{
		ClientVersion:   version,
		ClientKind:      kind,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if resp.Header.Type != MsgHandshakeAck {
		conn.Close()
		return nil, errors.New("handshake rejected")
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode handshake ack: %w", err)
	}
	c.sessionID = ack.SessionID

	return c, nil
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	return c.conn.Close()
}

// SessionID returns the server-assigned session identifier.
func (c *ClientConn) SessionID() string {
	return c.sessionID
}

// Request sends one request and waits for its correlated response.
// Server-originated traffic (pings) arriving in between is skipped.
func (c *ClientConn) Request(msgType MessageType, v any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var payload []byte
	if v != nil {
		var err error
		payload, err = Encode(v)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	id := c.nextID.Add(1)
	msg := NewMessage(msgType, id, payload)

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := msg.Write(c.conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	for {
		c.conn.SetReadDeadline(deadline)
		resp, err := ReadMessage(c.conn)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.Header.Type == MsgPing {
			continue
		}
		if resp.Header.RequestID != id {
			continue
		}
		if resp.Header.Type == MsgError {
			var e ErrorResponse
			if err := Decode(resp.Payload, &e); err == nil && e.Message != "" {
				return resp, fmt.Errorf("daemon error: %s", e.Message)
			}
			return resp, errors.New("daemon error")
		}
		return resp, nil
	}
}

// Ping checks daemon liveness.
func (c *ClientConn) Ping() error {
	resp, err := c.Request(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return errors.New("unexpected ping response")
	}
	return nil
}

// Status fetches daemon status.
func (c *ClientConn) Status() (*StatusResponse, error) {
	resp, err := c.Request(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// TrackingState fetches the live session state.
func (c *ClientConn) TrackingState() (*TrackingStateResponse, error) {
	resp, err := c.Request(MsgTrackingState, nil)
	if err != nil {
		return nil, err
	}
	var state TrackingStateResponse
	if err := Decode(resp.Payload, &state); err != nil {
		return nil, fmt.Errorf("decode tracking state: %w", err)
	}
	return &state, nil
}

// ForceFlush asks the daemon to persist pending usage now.
func (c *ClientConn) ForceFlush() error {
	_, err := c.Request(MsgForceFlush, nil)
	return err
}

// Snooze suppresses enforcement for the given duration, or lifts the
// snooze when d is zero.
func (c *ClientConn) Snooze(d time.Duration) (time.Time, error) {
	resp, err := c.Request(MsgSnooze, &SnoozeRequest{DurationSec: int64(d / time.Second)})
	if err != nil {
		return time.Time{}, err
	}
	var sr SnoozeResponse
	if err := Decode(resp.Payload, &sr); err != nil {
		return time.Time{}, fmt.Errorf("decode snooze response: %w", err)
	}
	return sr.Until, nil
}

// Shutdown asks the daemon to exit gracefully.
func (c *ClientConn) Shutdown() error {
	resp, err := c.Request(MsgShutdown, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgShutdownResp {
		return errors.New("unexpected shutdown response")
	}
	return nil
}

// AddLimit creates a limit and returns its ID.
func (c *ClientConn) AddLimit(l store.Limit) (int64, error) {
	resp, err := c.Request(MsgLimitAdd, &LimitAddRequest{Limit: l})
	if err != nil {
		return 0, err
	}
	var ar LimitAddResponse
	if err := Decode(resp.Payload, &ar); err != nil {
		return 0, fmt.Errorf("decode limit response: %w", err)
	}
	return ar.ID, nil
}

// DeleteLimit removes a limit.
func (c *ClientConn) DeleteLimit(id int64) error {
	_, err := c.Request(MsgLimitDelete, &LimitDeleteRequest{ID: id})
	return err
}

// Limits lists all limits.
func (c *ClientConn) Limits() ([]store.Limit, error) {
	resp, err := c.Request(MsgLimitList, nil)
	if err != nil {
		return nil, err
	}
	var lr LimitListResponse
	if err := Decode(resp.Payload, &lr); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}
	return lr.Limits, nil
}

// Usage fetches the per-domain usage summary for a timeframe.
func (c *ClientConn) Usage(tf store.Timeframe) ([]store.DomainUsage, error) {
	resp, err := c.Request(MsgUsageSummary, &UsageSummaryRequest{Timeframe: tf})
	if err != nil {
		return nil, err
	}
	var ur UsageSummaryResponse
	if err := Decode(resp.Payload, &ur); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return ur.Usage, nil
}

// BlockEvents fetches recent block events, newest first.
func (c *ClientConn) BlockEvents(limit int) ([]store.BlockEvent, error) {
	resp, err := c.Request(MsgBlockEvents, &BlockEventsRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	var br BlockEventsResponse
	if err := Decode(resp.Payload, &br); err != nil {
		return nil, fmt.Errorf("decode block events: %w", err)
	}
	return br.Events, nil
}

// Categories fetches persisted domain classifications.
func (c *ClientConn) Categories() (map[string]string, error) {
	resp, err := c.Request(MsgCategoryList, nil)
	if err != nil {
		return nil, err
	}
	var cr CategoryListResponse
	if err := Decode(resp.Payload, &cr); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return cr.Categories, nil
}

// SetCategory assigns a category to a domain.
func (c *ClientConn) SetCategory(domain, category string) error {
	_, err := c.Request(MsgCategorySet, &CategorySetRequest{Domain: domain, Category: category})
	return err
}

// SendEvent forwards a browser event to the daemon. Bridge clients only.
func (c *ClientConn) SendEvent(ev browser.Event) error {
	resp, err := c.Request(MsgBridgeEvent, ev)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgBridgeEventAck {
		return errors.New("event not acknowledged")
	}
	return nil
}
