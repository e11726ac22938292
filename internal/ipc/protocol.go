// Package ipc carries traffic between the tabwardd daemon and its two
// client kinds: the browser extension bridge and the control CLI.
//
// Both speak the same framed protocol over one Unix socket: a fixed
// 16-byte header followed by a JSON payload. Requests and responses are
// correlated by request ID, which also lets the daemon originate requests
// toward the bridge (tab URL lookups, redirect commands) on the same
// connection the bridge streams events over.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"tabward/internal/session"
	"tabward/internal/store"
)

// Protocol version for compatibility checking.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x54425743 // "TBWC"
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Bridge traffic (0x02xx)
	MsgBridgeEvent      MessageType = 0x0200
	MsgBridgeEventAck   MessageType = 0x0201
	MsgBridgeCommand    MessageType = 0x0202
	MsgBridgeCommandAck MessageType = 0x0203
	MsgTabURLRequest    MessageType = 0x0204
	MsgTabURLResponse   MessageType = 0x0205

	// Tracking operations (0x03xx)
	MsgTrackingState     MessageType = 0x0300
	MsgTrackingStateResp MessageType = 0x0301
	MsgForceFlush        MessageType = 0x0302
	MsgForceFlushResp    MessageType = 0x0303
	MsgSnooze            MessageType = 0x0304
	MsgSnoozeResp        MessageType = 0x0305
	MsgShutdown          MessageType = 0x0306
	MsgShutdownResp      MessageType = 0x0307

	// Limits (0x04xx)
	MsgLimitAdd        MessageType = 0x0400
	MsgLimitAddResp    MessageType = 0x0401
	MsgLimitDelete     MessageType = 0x0402
	MsgLimitDeleteResp MessageType = 0x0403
	MsgLimitList       MessageType = 0x0404
	MsgLimitListResp   MessageType = 0x0405

	// Usage and history (0x05xx)
	MsgUsageSummary     MessageType = 0x0500
	MsgUsageSummaryResp MessageType = 0x0501
	MsgBlockEvents      MessageType = 0x0502
	MsgBlockEventsResp  MessageType = 0x0503

	// Categories (0x06xx)
	MsgCategoryList     MessageType = 0x0600
	MsgCategoryListResp MessageType = 0x0601
	MsgCategorySet      MessageType = 0x0602
	MsgCategorySetResp  MessageType = 0x0603
)

// ClientKind identifies what connected: the extension bridge or a control
// client.
type ClientKind string

const (
	KindBridge  ClientKind = "bridge"
	KindControl ClientKind = "control"
)

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// MaxPayload bounds a single message payload.
const MaxPayload = 4 * 1024 * 1024

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/response payloads.

// HandshakeRequest is sent by a client to identify itself.
type HandshakeRequest struct {
	ClientVersion   string     `json:"client_version"`
	ClientKind      ClientKind `json:"client_kind"`
	ProtocolVersion uint8      `json:"protocol_version"`
}

// HandshakeResponse acknowledges a connection.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrInternalError  = 4
	ErrNoBridge       = 5
)

// StatusResponse contains daemon status.
type StatusResponse struct {
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSec       int64     `json:"uptime_sec"`
	BridgeConnected bool      `json:"bridge_connected"`
	ClientCount     int       `json:"client_count"`
	LimitCount      int       `json:"limit_count"`
}

// TrackingStateResponse is the live session state plus the committer's
// unwritten increment.
type TrackingStateResponse struct {
	Session        session.Snapshot `json:"session"`
	PendingDomain  string           `json:"pending_domain,omitempty"`
	PendingSeconds int64            `json:"pending_seconds,omitempty"`
}

// ForceFlushResponse acknowledges a flush.
type ForceFlushResponse struct {
	Success bool `json:"success"`
}

// SnoozeRequest suppresses enforcement for a duration, or lifts an active
// snooze when DurationSec is zero or negative.
type SnoozeRequest struct {
	DurationSec int64 `json:"duration_sec"`
}

// SnoozeResponse reports the resulting snooze deadline.
type SnoozeResponse struct {
	Until time.Time `json:"until"`
}

// ShutdownResponse acknowledges a shutdown request; the daemon exits after
// sending it.
type ShutdownResponse struct {
	Success bool `json:"success"`
}

// LimitAddRequest creates a limit.
type LimitAddRequest struct {
	Limit store.Limit `json:"limit"`
}

// LimitAddResponse returns the created limit's ID.
type LimitAddResponse struct {
	ID int64 `json:"id"`
}

// LimitDeleteRequest removes a limit by ID.
type LimitDeleteRequest struct {
	ID int64 `json:"id"`
}

// LimitDeleteResponse acknowledges the removal.
type LimitDeleteResponse struct {
	Success bool `json:"success"`
}

// LimitListResponse lists all limits.
type LimitListResponse struct {
	Limits []store.Limit `json:"limits"`
}

// UsageSummaryRequest asks for per-domain usage over a timeframe.
type UsageSummaryRequest struct {
	Timeframe store.Timeframe `json:"timeframe"`
}

// UsageSummaryResponse contains per-domain usage, highest first.
type UsageSummaryResponse struct {
	Timeframe store.Timeframe     `json:"timeframe"`
	Usage     []store.DomainUsage `json:"usage"`
}

// BlockEventsRequest asks for recent block events.
type BlockEventsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// BlockEventsResponse contains block events, newest first.
type BlockEventsResponse struct {
	Events []store.BlockEvent `json:"events"`
}

// CategoryListResponse contains persisted domain classifications.
type CategoryListResponse struct {
	Categories map[string]string `json:"categories"`
}

// CategorySetRequest assigns a category to a domain.
type CategorySetRequest struct {
	Domain   string `json:"domain"`
	Category string `json:"category"`
}

// CategorySetResponse acknowledges the assignment.
type CategorySetResponse struct {
	Success bool `json:"success"`
}

// TabURLRequest asks the bridge for a tab's current URL.
type TabURLRequest struct {
	TabID int64 `json:"tab_id"`
}

// TabURLResponse carries the bridge's answer.
type TabURLResponse struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
