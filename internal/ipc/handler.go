package ipc

import (
	"context"
	"time"

	"tabward/internal/browser"
	"tabward/internal/clock"
	"tabward/internal/logging"
	"tabward/internal/metrics"
	"tabward/internal/session"
	"tabward/internal/store"
)

// Flusher is the committer surface the handler needs.
type Flusher interface {
	ForceFlush()
	PendingSeconds() (string, int64)
}

// EventSink consumes bridge events. Implemented by the session tracker.
type EventSink interface {
	Handle(ev browser.Event)
}

// DaemonHandler serves the daemon-side IPC operations.
type DaemonHandler struct {
	version  string
	state    *session.State
	store    *store.Store
	flusher  Flusher
	sink     EventSink
	server   *Server
	shutdown func()
	clock    clock.Clock
	log      *logging.Logger
}

// HandlerOptions wires the daemon handler.
type HandlerOptions struct {
	Version string
	State   *session.State
	Store   *store.Store
	Flusher Flusher
	Sink    EventSink

	// OnShutdown runs when a control client requests daemon shutdown.
	OnShutdown func()

	Clock clock.Clock
	Log   *logging.Logger
}

// NewDaemonHandler builds the handler. Attach the server afterwards with
// SetServer; the server needs the handler at construction and vice versa.
func NewDaemonHandler(opts HandlerOptions) *DaemonHandler {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	return &DaemonHandler{
		version:  opts.Version,
		state:    opts.State,
		store:    opts.Store,
		flusher:  opts.Flusher,
		sink:     opts.Sink,
		shutdown: opts.OnShutdown,
		clock:    opts.Clock,
		log:      opts.Log.WithComponent("ipc"),
	}
}

// SetServer attaches the server for status reporting.
func (h *DaemonHandler) SetServer(s *Server) {
	h.server = s
}

// SetSink attaches the bridge event consumer. The tracker is built after
// the server, so the sink arrives late; events before then are dropped.
func (h *DaemonHandler) SetSink(sink EventSink) {
	h.sink = sink
}

// HandleMessage dispatches one request.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgBridgeEvent:
		return h.handleBridgeEvent(client, msg)

	case MsgStatusRequest:
		return h.handleStatus(id)

	case MsgTrackingState:
		return h.handleTrackingState(id)

	case MsgForceFlush:
		h.flusher.ForceFlush()
		return NewResponse(MsgForceFlushResp, id, &ForceFlushResponse{Success: true})

	case MsgSnooze:
		return h.handleSnooze(id, msg)

	case MsgShutdown:
		return h.handleShutdown(id)

	case MsgLimitAdd:
		return h.handleLimitAdd(id, msg)

	case MsgLimitDelete:
		return h.handleLimitDelete(id, msg)

	case MsgLimitList:
		return h.handleLimitList(id)

	case MsgUsageSummary:
		return h.handleUsageSummary(id, msg)

	case MsgBlockEvents:
		return h.handleBlockEvents(id, msg)

	case MsgCategoryList:
		return h.handleCategoryList(id)

	case MsgCategorySet:
		return h.handleCategorySet(id, msg)

	default:
		return NewErrorMessage(id, ErrInvalidRequest, "unknown message type"), nil
	}
}

// handleBridgeEvent validates and forwards an extension event to the
// tracker. Malformed events are rejected without disturbing the session.
func (h *DaemonHandler) handleBridgeEvent(client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	if client.Kind != KindBridge {
		return NewErrorMessage(id, ErrInvalidRequest, "events accepted from the bridge only"), nil
	}

	ev, err := browser.ParseEvent(msg.Payload)
	if err != nil {
		h.log.Warn("malformed bridge event dropped", "error", err)
		return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
	}
	if h.sink == nil {
		return NewErrorMessage(id, ErrInternalError, "daemon still starting"), nil
	}

	metrics.BridgeEvents.Inc()
	h.sink.Handle(ev)
	return NewMessage(MsgBridgeEventAck, id, nil), nil
}

func (h *DaemonHandler) handleStatus(id uint32) (*Message, error) {
	limits, err := h.store.AllLimits()
	if err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}

	resp := &StatusResponse{
		Version:    h.version,
		LimitCount: len(limits),
	}
	if h.server != nil {
		resp.StartedAt = h.server.StartedAt()
		resp.UptimeSec = int64(time.Since(h.server.StartedAt()) / time.Second)
		resp.BridgeConnected = h.server.BridgeConnected()
		resp.ClientCount = h.server.ClientCount()
	}
	return NewResponse(MsgStatusResponse, id, resp)
}

func (h *DaemonHandler) handleTrackingState(id uint32) (*Message, error) {
	d, secs := h.flusher.PendingSeconds()
	resp := &TrackingStateResponse{
		Session:        h.state.Snapshot(),
		PendingDomain:  d,
		PendingSeconds: secs,
	}
	return NewResponse(MsgTrackingStateResp, id, resp)
}

func (h *DaemonHandler) handleSnooze(id uint32, msg *Message) (*Message, error) {
	var req SnoozeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid snooze request"), nil
	}

	if req.DurationSec <= 0 {
		if err := h.store.ClearSnooze(); err != nil {
			return NewErrorMessage(id, ErrInternalError, err.Error()), nil
		}
		return NewResponse(MsgSnoozeResp, id, &SnoozeResponse{})
	}

	until := h.clock.Now().Add(time.Duration(req.DurationSec) * time.Second)
	if err := h.store.SetSnoozeUntil(until); err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}
	h.log.Info("enforcement snoozed", "until", until)
	return NewResponse(MsgSnoozeResp, id, &SnoozeResponse{Until: until})
}

// handleShutdown acknowledges first, then triggers shutdown so the
// response makes it out before the socket closes.
func (h *DaemonHandler) handleShutdown(id uint32) (*Message, error) {
	if h.shutdown == nil {
		return NewErrorMessage(id, ErrInvalidRequest, "shutdown not supported"), nil
	}
	h.log.Info("shutdown requested over ipc")
	go h.shutdown()
	return NewResponse(MsgShutdownResp, id, &ShutdownResponse{Success: true})
}

func (h *DaemonHandler) handleLimitAdd(id uint32, msg *Message) (*Message, error) {
	var req LimitAddRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid limit"), nil
	}

	limitID, err := h.store.AddLimit(req.Limit)
	if err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, err.Error()), nil
	}
	h.log.Info("limit added", "id", limitID, "target", req.Limit.TargetID, "timeframe", req.Limit.Timeframe)
	return NewResponse(MsgLimitAddResp, id, &LimitAddResponse{ID: limitID})
}

func (h *DaemonHandler) handleLimitDelete(id uint32, msg *Message) (*Message, error) {
	var req LimitDeleteRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid limit id"), nil
	}

	if err := h.store.DeleteLimit(req.ID); err != nil {
		return NewErrorMessage(id, ErrNotFound, err.Error()), nil
	}
	h.log.Info("limit deleted", "id", req.ID)
	return NewResponse(MsgLimitDeleteResp, id, &LimitDeleteResponse{Success: true})
}

func (h *DaemonHandler) handleLimitList(id uint32) (*Message, error) {
	limits, err := h.store.AllLimits()
	if err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}
	return NewResponse(MsgLimitListResp, id, &LimitListResponse{Limits: limits})
}

func (h *DaemonHandler) handleUsageSummary(id uint32, msg *Message) (*Message, error) {
	var req UsageSummaryRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid usage request"), nil
	}
	if req.Timeframe == "" {
		req.Timeframe = store.Daily
	}
	if !store.ValidTimeframe(req.Timeframe) {
		return NewErrorMessage(id, ErrInvalidRequest, "unknown timeframe"), nil
	}

	usage, err := h.store.UsageSummary(req.Timeframe, h.clock.Now())
	if err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}
	return NewResponse(MsgUsageSummaryResp, id, &UsageSummaryResponse{
		Timeframe: req.Timeframe,
		Usage:     usage,
	})
}

func (h *DaemonHandler) handleBlockEvents(id uint32, msg *Message) (*Message, error) {
	var req BlockEventsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, "invalid block events request"), nil
		}
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	events, err := h.store.BlockEvents(req.Limit)
	if err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}
	return NewResponse(MsgBlockEventsResp, id, &BlockEventsResponse{Events: events})
}

func (h *DaemonHandler) handleCategoryList(id uint32) (*Message, error) {
	cats, err := h.store.Categories()
	if err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}
	return NewResponse(MsgCategoryListResp, id, &CategoryListResponse{Categories: cats})
}

func (h *DaemonHandler) handleCategorySet(id uint32, msg *Message) (*Message, error) {
	var req CategorySetRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid category request"), nil
	}
	if req.Domain == "" || req.Category == "" {
		return NewErrorMessage(id, ErrInvalidRequest, "domain and category required"), nil
	}

	if err := h.store.SetCategory(req.Domain, req.Category); err != nil {
		return NewErrorMessage(id, ErrInternalError, err.Error()), nil
	}
	return NewResponse(MsgCategorySetResp, id, &CategorySetResponse{Success: true})
}
