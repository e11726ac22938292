package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"tabward/internal/logging"
	"tabward/internal/metrics"
)

// Handler processes IPC requests that are not handled by the server
// itself (ping, handshake, bridge routing).
type Handler interface {
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler.
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server is the IPC server managing bridge and control connections.
type Server struct {
	mu         sync.RWMutex
	listener   net.Listener
	socketPath string
	socketMode os.FileMode
	handler    Handler
	clients    map[string]*Client
	bridgeID   string
	version    string
	startedAt  time.Time
	maxConns   int
	timeout    time.Duration
	log        *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32

	// pending holds daemon-originated requests awaiting a bridge response,
	// keyed by request ID.
	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
}

// Client represents a connected client.
type Client struct {
	ID          string
	Kind        ClientKind
	Version     string
	ConnectedAt time.Time

	conn    net.Conn
	writeMu sync.Mutex
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	SocketMode     os.FileMode
	Version        string
	MaxConnections int
	Timeout        time.Duration
}

// NewServer creates a new IPC server.
func NewServer(cfg ServerConfig, handler Handler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0600
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		socketPath: cfg.SocketPath,
		socketMode: cfg.SocketMode,
		handler:    handler,
		version:    cfg.Version,
		maxConns:   cfg.MaxConnections,
		timeout:    cfg.Timeout,
		log:        log.WithComponent("ipc"),
		clients:    make(map[string]*Client),
		pending:    make(map[uint32]chan *Message),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove stale socket file from a previous run.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	if err := os.Chmod(s.socketPath, s.socketMode); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("ipc shutdown timed out waiting for connections")
	}

	os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// StartedAt returns when the server started listening.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BridgeConnected reports whether an extension bridge is connected.
func (s *Server) BridgeConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bridgeID != ""
}

// bridge returns the current bridge client, if any.
func (s *Server) bridge() (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bridgeID == "" {
		return nil, false
	}
	c, ok := s.clients[s.bridgeID]
	return c, ok
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.log.Warn("accept failed", "error", err)
				}
				continue
			}
		}

		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()
		if count >= s.maxConns {
			s.log.Warn("connection limit reached, rejecting")
			conn.Close()
			continue
		}

		client := &Client{
			ID:          generateClientID(),
			Kind:        KindControl,
			conn:        conn,
			ConnectedAt: time.Now(),
		}

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		if s.bridgeID == client.ID {
			s.bridgeID = ""
			metrics.BridgeConnected.Set(0)
			s.log.Info("bridge disconnected", "client", client.ID)
		}
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		msg, err := ReadMessage(client.conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle connection; nudge it so half-open sockets die.
				s.sendMessage(client, NewMessage(MsgPing, s.nextRequestID.Add(1), nil))
				continue
			}
			s.log.Debug("read failed", "client", client.ID, "error", err)
			return
		}

		// Responses to daemon-originated requests route to their waiter.
		if s.deliverPending(msg) {
			continue
		}

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil

	case MsgPong:
		return nil, nil

	case MsgHandshake:
		return s.handleHandshake(client, msg)

	default:
		if s.handler != nil {
			return s.handler.HandleMessage(s.ctx, client, msg)
		}
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
}

func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}

	client.Version = req.ClientVersion
	if req.ClientKind == KindBridge {
		client.Kind = KindBridge
		s.mu.Lock()
		s.bridgeID = client.ID
		s.mu.Unlock()
		metrics.BridgeConnected.Set(1)
		s.log.Info("bridge connected", "client", client.ID, "version", req.ClientVersion)
	}

	resp := &HandshakeResponse{
		ServerVersion:   s.version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       client.ID,
	}
	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, resp)
}

// RequestBridge sends a request to the connected bridge and waits for the
// correlated response.
func (s *Server) RequestBridge(msgType MessageType, v any) (*Message, error) {
	bridge, ok := s.bridge()
	if !ok {
		return nil, errors.New("no bridge connected")
	}

	payload, err := Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	id := s.nextRequestID.Add(1)
	ch := make(chan *Message, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.sendMessage(bridge, NewMessage(msgType, id, payload)); err != nil {
		return nil, fmt.Errorf("send to bridge: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(s.timeout):
		return nil, errors.New("bridge request timed out")
	case <-s.ctx.Done():
		return nil, errors.New("server shutting down")
	}
}

// NotifyBridge sends a one-way message to the bridge.
func (s *Server) NotifyBridge(msgType MessageType, v any) error {
	bridge, ok := s.bridge()
	if !ok {
		return errors.New("no bridge connected")
	}
	payload, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return s.sendMessage(bridge, NewMessage(msgType, s.nextRequestID.Add(1), payload))
}

// deliverPending routes a bridge response to its waiting daemon-originated
// request. Only response types are eligible, so client request IDs can
// never collide into the pending table.
func (s *Server) deliverPending(msg *Message) bool {
	switch msg.Header.Type {
	case MsgTabURLResponse, MsgBridgeCommandAck:
	default:
		return false
	}

	s.pendingMu.Lock()
	ch, ok := s.pending[msg.Header.RequestID]
	if ok {
		delete(s.pending, msg.Header.RequestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(client.conn)
}

func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}
