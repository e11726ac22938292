package ipc

import (
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabward/internal/browser"
	"tabward/internal/session"
	"tabward/internal/store"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeFlusher struct {
	mu      sync.Mutex
	flushes int
	domain  string
	seconds int64
}

func (f *fakeFlusher) ForceFlush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeFlusher) PendingSeconds() (string, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.domain, f.seconds
}

func (f *fakeFlusher) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

type fakeSink struct {
	mu     sync.Mutex
	events []browser.Event
}

func (f *fakeSink) Handle(ev browser.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeSink) received() []browser.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Event(nil), f.events...)
}

type harness struct {
	server   *Server
	store    *store.Store
	state    *session.State
	flusher  *fakeFlusher
	sink     *fakeSink
	socket   string
	shutdown atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		store:   st,
		state:   session.NewState(),
		flusher: &fakeFlusher{},
		sink:    &fakeSink{},
		socket:  filepath.Join(t.TempDir(), "tabward.sock"),
	}

	handler := NewDaemonHandler(HandlerOptions{
		Version:    "test",
		State:      h.state,
		Store:      st,
		Flusher:    h.flusher,
		Sink:       h.sink,
		OnShutdown: func() { h.shutdown.Store(true) },
	})
	h.server = NewServer(ServerConfig{
		SocketPath: h.socket,
		Version:    "test",
		Timeout:    2 * time.Second,
	}, handler, nil)
	handler.SetServer(h.server)

	require.NoError(t, h.server.Start())
	t.Cleanup(func() { h.server.Stop() })
	return h
}

func (h *harness) dial(t *testing.T, kind ClientKind) *ClientConn {
	t.Helper()
	c, err := Dial(h.socket, kind, "test", 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// ============================================================================
// Protocol framing
// ============================================================================

func TestMessageRoundtrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		msg := NewMessage(MsgStatusRequest, 7, []byte(`{"x":1}`))
		msg.Write(a)
	}()

	got, err := ReadMessage(b)
	require.NoError(t, err)
	assert.Equal(t, MsgStatusRequest, got.Header.Type)
	assert.Equal(t, uint32(7), got.Header.RequestID)
	assert.Equal(t, []byte(`{"x":1}`), got.Payload)
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go a.Write(make([]byte, HeaderSize))

	_, err := ReadMessage(b)
	assert.ErrorContains(t, err, "invalid magic")
}

// ============================================================================
// Control client operations
// ============================================================================

func TestPingAndStatus(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	require.NoError(t, c.Ping())

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", status.Version)
	assert.False(t, status.BridgeConnected)
	assert.Equal(t, 1, status.ClientCount)
}

func TestTrackingState(t *testing.T) {
	h := newHarness(t)
	h.state.SetActiveTab(3)
	h.state.SetDomain("example.com", time.Now())
	h.flusher.domain = "example.com"
	h.flusher.seconds = 12

	c := h.dial(t, KindControl)
	state, err := c.TrackingState()
	require.NoError(t, err)

	assert.Equal(t, "example.com", state.Session.ActiveDomain)
	assert.Equal(t, int64(3), state.Session.ActiveTabID)
	assert.Equal(t, "example.com", state.PendingDomain)
	assert.Equal(t, int64(12), state.PendingSeconds)
}

func TestForceFlush(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	require.NoError(t, c.ForceFlush())
	assert.Equal(t, 1, h.flusher.flushCount())
}

func TestLimitLifecycle(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	id, err := c.AddLimit(store.Limit{
		TargetType:   store.TargetSite,
		TargetID:     "youtube.com",
		Timeframe:    store.Daily,
		LimitMinutes: 30,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	limits, err := c.Limits()
	require.NoError(t, err)
	require.Len(t, limits, 1)
	assert.Equal(t, "youtube.com", limits[0].TargetID)

	require.NoError(t, c.DeleteLimit(id))
	limits, err = c.Limits()
	require.NoError(t, err)
	assert.Empty(t, limits)
}

func TestAddLimitValidationErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	_, err := c.AddLimit(store.Limit{TargetType: "bogus"})
	assert.Error(t, err)
}

func TestSnoozeRoundtrip(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	until, err := c.Snooze(10 * time.Minute)
	require.NoError(t, err)
	assert.False(t, until.IsZero())

	stored, err := h.store.SnoozeUntil()
	require.NoError(t, err)
	assert.WithinDuration(t, until, stored, time.Second)

	// Zero duration lifts the snooze.
	until, err = c.Snooze(0)
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	stored, err = h.store.SnoozeUntil()
	require.NoError(t, err)
	assert.True(t, stored.IsZero())
}

func TestUsageAndCategories(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.AppendUsage("example.com", 120, store.DateKey(time.Now())))

	c := h.dial(t, KindControl)

	usage, err := c.Usage(store.Daily)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(120), usage[0].Seconds)

	require.NoError(t, c.SetCategory("example.com", "Work"))
	cats, err := c.Categories()
	require.NoError(t, err)
	assert.Equal(t, "Work", cats["example.com"])
}

func TestShutdownRequest(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	require.NoError(t, c.Shutdown())
	require.Eventually(t, h.shutdown.Load, time.Second, 10*time.Millisecond)
}

// ============================================================================
// Bridge traffic
// ============================================================================

func TestBridgeEventReachesSink(t *testing.T) {
	h := newHarness(t)
	bridge := h.dial(t, KindBridge)

	require.NoError(t, bridge.SendEvent(browser.Event{
		Kind:  browser.EventTabActivated,
		TabID: 4,
		URL:   "https://example.com",
	}))

	events := h.sink.received()
	require.Len(t, events, 1)
	assert.Equal(t, browser.EventTabActivated, events[0].Kind)
	assert.Equal(t, int64(4), events[0].TabID)
}

func TestEventsRejectedFromControlClients(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, KindControl)

	err := c.SendEvent(browser.Event{Kind: browser.EventTabActivated, URL: "https://example.com"})
	assert.Error(t, err)
	assert.Empty(t, h.sink.received())
}

func TestMalformedBridgeEventRejected(t *testing.T) {
	h := newHarness(t)
	bridge := h.dial(t, KindBridge)

	_, err := bridge.Request(MsgBridgeEvent, map[string]any{"kind": "not_a_kind"})
	assert.Error(t, err)
	assert.Empty(t, h.sink.received())
}

func TestBridgeConnectionTracked(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.server.BridgeConnected())

	bridge := h.dial(t, KindBridge)
	assert.True(t, h.server.BridgeConnected())

	bridge.Close()
	require.Eventually(t, func() bool {
		return !h.server.BridgeConnected()
	}, time.Second, 10*time.Millisecond)
}

// rawBridge is a minimal bridge that answers daemon-originated requests.
type rawBridge struct {
	conn net.Conn
	t    *testing.T
	urls map[int64]string
}

func dialRawBridge(t *testing.T, socket string, urls map[int64]string) *rawBridge {
	t.Helper()
	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	b := &rawBridge{conn: conn, t: t, urls: urls}

	payload, err := Encode(&HandshakeRequest{ClientKind: KindBridge, ProtocolVersion: ProtocolVersion})
	require.NoError(t, err)
	require.NoError(t, NewMessage(MsgHandshake, 1, payload).Write(conn))

	ack, err := ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, MsgHandshakeAck, ack.Header.Type)

	go b.serve()
	return b
}

func (b *rawBridge) serve() {
	for {
		msg, err := ReadMessage(b.conn)
		if err != nil {
			return
		}
		switch msg.Header.Type {
		case MsgTabURLRequest:
			var req TabURLRequest
			Decode(msg.Payload, &req)
			resp := TabURLResponse{}
			if url, ok := b.urls[req.TabID]; ok {
				resp.URL = url
			} else {
				resp.Error = "no such tab"
			}
			out, _ := NewResponse(MsgTabURLResponse, msg.Header.RequestID, &resp)
			out.Write(b.conn)
		case MsgBridgeCommand:
			NewMessage(MsgBridgeCommandAck, msg.Header.RequestID, nil).Write(b.conn)
		}
	}
}

func TestBridgeControllerTabURL(t *testing.T) {
	h := newHarness(t)
	dialRawBridge(t, h.socket, map[int64]string{5: "https://example.com/page"})

	require.Eventually(t, h.server.BridgeConnected, time.Second, 10*time.Millisecond)

	ctrl := NewBridgeController(h.server)

	url, err := ctrl.TabURL(5)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", url)

	_, err = ctrl.TabURL(99)
	assert.ErrorContains(t, err, "no such tab")
}

func TestBridgeControllerRedirect(t *testing.T) {
	h := newHarness(t)
	dialRawBridge(t, h.socket, nil)
	require.Eventually(t, h.server.BridgeConnected, time.Second, 10*time.Millisecond)

	ctrl := NewBridgeController(h.server)
	require.NoError(t, ctrl.Redirect(5, browser.BlockPageURL("https://example.com")))
}

func TestControllerFailsWithoutBridge(t *testing.T) {
	h := newHarness(t)
	ctrl := NewBridgeController(h.server)

	_, err := ctrl.TabURL(1)
	assert.Error(t, err)
	assert.Error(t, ctrl.Redirect(1, "blocked/index.html"))
}
