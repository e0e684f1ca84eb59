package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/dispatch"
	"github.com/rickgao/gwsession/internal/reqid"
	"github.com/rickgao/gwsession/internal/transport"
	"github.com/rickgao/gwsession/internal/wire"
)

// ownerKey marks contexts handed to handlers by a Manager.
type ownerKey struct{}

// Manager owns one gateway connection and its read loop.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	// State
	mu            sync.Mutex
	state         State
	conn          net.Conn
	addr          string
	host          string
	port          int
	clientID      int
	connectedCh   chan struct{} // closed while Connected
	attemptDone   chan struct{} // closed when the current Connect returns
	attemptCancel context.CancelFunc
	loopCancel    context.CancelFunc
	loopDone      chan struct{}

	serverVersion  int
	connTime       string
	accounts       []string
	connectedSince time.Time

	faultMu sync.Mutex
	onFault []func(error)
}

// NewManager creates a Manager. Nil collaborators in cfg are replaced
// with defaults: a TCP dialer, the default wire table, a fresh registry,
// an inline dispatcher and an allocator starting at zero.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &transport.TCPDialer{Timeout: cfg.HandshakeTimeout}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = wire.NewDecoder(nil)
	}
	if cfg.Registry == nil {
		cfg.Registry = callback.NewRegistry()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(cfg.Registry, dispatch.DefaultOptions(), logger, cfg.Metrics)
	}
	if cfg.Allocator == nil {
		cfg.Allocator = reqid.New(0)
	}

	logger = logger.With("session_id", cfg.SessionID.String())
	cfg.Metrics.SetState(int(Disconnected))

	return &Manager{
		cfg:         cfg,
		logger:      logger,
		state:       Disconnected,
		connectedCh: make(chan struct{}),
	}
}

// OnFault registers fn to be called after the read loop ends
// unexpectedly. fn runs on the read loop goroutine after the state has
// moved to Disconnected.
func (m *Manager) OnFault(fn func(error)) {
	m.faultMu.Lock()
	m.onFault = append(m.onFault, fn)
	m.faultMu.Unlock()
}

// Connect dials host:port, runs the handshake and starts the read loop.
// It is only valid from Disconnected. Any failure returns an *Error of
// kind KindConnectionFailed and leaves the manager Disconnected.
func (m *Manager) Connect(ctx context.Context, host string, port, clientID int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	m.mu.Lock()
	if m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("connect while %s: %w", state, ErrInvalidState)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	m.setState(Connecting)
	m.addr = addr
	m.host = host
	m.port = port
	m.clientID = clientID
	m.attemptDone = done
	m.attemptCancel = cancel
	m.mu.Unlock()

	m.logger.Info("connecting", "addr", addr, "client_id", clientID)

	conn, err := m.cfg.Dialer.Dial(attemptCtx, addr)
	if err != nil {
		return m.failConnect(nil, "dial", err)
	}

	m.mu.Lock()
	if m.state != Connecting {
		m.mu.Unlock()
		return m.failConnect(conn, "dial", ErrConnectAborted)
	}
	m.conn = conn
	m.mu.Unlock()

	hello, err := m.handshake(attemptCtx, conn, clientID)
	if err != nil {
		return m.failConnect(conn, "handshake", err)
	}

	m.mu.Lock()
	if m.state != Connecting {
		m.mu.Unlock()
		return m.failConnect(conn, "handshake", ErrConnectAborted)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	m.loopCancel = loopCancel
	m.loopDone = loopDone
	m.serverVersion = hello.Version
	m.connTime = hello.ConnectionTime
	m.connectedSince = time.Now()
	m.setState(Connected)
	close(m.connectedCh)

	go m.readLoop(loopCtx, conn, loopDone)
	m.mu.Unlock()

	m.cfg.Metrics.ConnectAttempt(true)
	m.logger.Info("connected",
		"addr", addr,
		"server_version", hello.Version,
		"connection_time", hello.ConnectionTime,
		"next_request_id", m.cfg.Allocator.Peek(),
	)
	return nil
}

// failConnect reverts a failed attempt to Disconnected. When a concurrent
// Disconnect already owns the teardown, the state is left to it.
func (m *Manager) failConnect(conn net.Conn, op string, cause error) error {
	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	addr := m.addr
	switch m.state {
	case Connecting:
		m.conn = nil
		m.attemptCancel = nil
		m.setState(Disconnected)
	case Closing:
		if !errors.Is(cause, ErrConnectAborted) {
			cause = fmt.Errorf("%w: %w", ErrConnectAborted, cause)
		}
	}
	m.mu.Unlock()

	m.cfg.Metrics.ConnectAttempt(false)
	m.logger.Error("connect failed", "addr", addr, "op", op, "error", cause)

	return &Error{Kind: KindConnectionFailed, Op: op, Addr: addr, Err: cause}
}

// handshake exchanges versions, starts the API and reads until the
// gateway announces the next valid request id. Messages that arrive
// before it are dispatched normally.
func (m *Manager) handshake(ctx context.Context, conn net.Conn, clientID int) (wire.ServerHello, error) {
	conn.SetDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	hello, err := m.exchangeHello(conn, clientID)
	if err == nil {
		err = m.awaitNextValidID(conn)
	}
	if err != nil {
		if ctx.Err() != nil {
			return wire.ServerHello{}, fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		return wire.ServerHello{}, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return wire.ServerHello{}, fmt.Errorf("clear deadline: %w", err)
	}
	return hello, nil
}

func (m *Manager) exchangeHello(conn net.Conn, clientID int) (wire.ServerHello, error) {
	if _, err := conn.Write(wire.ClientHello(wire.MinClientVersion, wire.MaxClientVersion, m.cfg.ConnectOptions)); err != nil {
		return wire.ServerHello{}, fmt.Errorf("send client hello: %w", err)
	}

	payload, err := wire.ReadFrame(conn, m.cfg.MaxFrameSize)
	if err != nil {
		return wire.ServerHello{}, fmt.Errorf("read server hello: %w", err)
	}
	hello, err := wire.ParseServerHello(payload)
	if err != nil {
		return wire.ServerHello{}, err
	}

	if err := wire.WriteFrame(conn, wire.StartAPI(clientID, m.cfg.Capabilities)); err != nil {
		return wire.ServerHello{}, fmt.Errorf("send start api: %w", err)
	}
	return hello, nil
}

func (m *Manager) awaitNextValidID(conn net.Conn) error {
	hctx := m.handlerContext(context.Background())

	for {
		payload, err := wire.ReadFrame(conn, m.cfg.MaxFrameSize)
		if err != nil {
			return fmt.Errorf("await next valid id: %w", err)
		}
		m.cfg.Metrics.MessageReceived()

		msg, err := m.cfg.Decoder.Decode(payload)
		if err != nil {
			m.logger.Warn("dropping malformed message", "error", err)
			continue
		}

		isNextID := m.absorb(msg)
		m.cfg.Dispatcher.Dispatch(hctx, msg)
		if isNextID {
			return nil
		}
	}
}

// absorb records session facts carried by gateway bookkeeping messages.
// It reports whether msg was a next-valid-id announcement.
func (m *Manager) absorb(msg callback.Message) bool {
	if len(msg.Fields) == 0 {
		return false
	}

	switch msg.Fields[0] {
	case strconv.Itoa(wire.MsgNextValidID):
		id, err := wire.ParseNextValidID(msg.Fields)
		if err != nil {
			m.logger.Warn("bad next valid id", "error", err)
			return false
		}
		if m.cfg.Allocator.Reseed(id) {
			m.logger.Debug("request ids reseeded", "next_request_id", id)
		}
		return true

	case strconv.Itoa(wire.MsgManagedAccts):
		accounts := wire.ParseManagedAccounts(msg.Fields)
		m.mu.Lock()
		m.accounts = accounts
		m.mu.Unlock()
		m.logger.Info("managed accounts", "accounts", accounts)
	}
	return false
}

// AwaitConnected blocks until the manager is Connected, ctx is done, or
// timeout elapses. A non-positive timeout waits on ctx alone.
func (m *Manager) AwaitConnected(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m.mu.Lock()
	ch := m.connectedCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if m.IsConnected() {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
	}
}

// Disconnect tears the session down. The transport is closed, the read
// loop is joined, bounded by ctx and the configured disconnect timeout,
// and then pending requests are notified with callback.ErrSessionTerminated.
// It is a no-op when already Disconnected or Closing. A Connect still in
// progress returns an error wrapping ErrConnectAborted.
//
// A handler that disconnects must pass its own ctx: Disconnect recognizes
// it and skips joining the read loop the handler is running on. Any other
// ctx from inside a handler waits out the full disconnect timeout.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Disconnected || m.state == Closing {
		m.mu.Unlock()
		return nil
	}

	prev := m.state
	m.setState(Closing)
	m.resetConnectedLocked()

	conn := m.conn
	wait := m.loopDone
	if prev == Connecting {
		wait = m.attemptDone
		if m.attemptCancel != nil {
			m.attemptCancel()
		}
	}
	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.mu.Unlock()

	m.logger.Info("disconnecting", "from", prev.String())

	if conn != nil {
		conn.Close()
	}

	var joinErr error
	if wait != nil && !m.Owns(ctx) {
		joinCtx, cancel := context.WithTimeout(ctx, m.cfg.DisconnectTimeout)
		select {
		case <-wait:
		case <-joinCtx.Done():
			joinErr = fmt.Errorf("disconnect join: %w", joinCtx.Err())
			m.logger.Warn("read loop did not exit in time", "error", joinCtx.Err())
		}
		cancel()
	}

	// No read-loop delivery can follow a request's terminal message.
	m.invalidatePending(m.handlerContext(ctx), callback.ErrSessionTerminated)

	m.mu.Lock()
	m.conn = nil
	m.loopCancel = nil
	m.loopDone = nil
	m.attemptCancel = nil
	m.connectedSince = time.Time{}
	m.setState(Disconnected)
	m.mu.Unlock()

	m.logger.Info("disconnected")
	return joinErr
}

// Send writes data as one frame. It returns ErrNotConnected unless the
// manager is Connected.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := wire.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	m.cfg.Metrics.Sent()
	return nil
}

// IsConnected reports whether the manager is Connected.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ServerVersion returns the protocol version negotiated by the last
// successful handshake.
func (m *Manager) ServerVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverVersion
}

// ConnectionTime returns the gateway's connection timestamp string from
// the last successful handshake.
func (m *Manager) ConnectionTime() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connTime
}

// ManagedAccounts returns the accounts the gateway last announced.
func (m *Manager) ManagedAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.accounts...)
}

// Status returns a snapshot of the connection.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		SessionID:       m.cfg.SessionID,
		Host:            m.host,
		Port:            m.port,
		ClientID:        m.clientID,
		State:           m.state,
		ServerVersion:   m.serverVersion,
		ConnectionTime:  m.connTime,
		ManagedAccounts: append([]string(nil), m.accounts...),
		ConnectedSince:  m.connectedSince,
		PendingRequests: m.cfg.Registry.PendingCount(),
		NextRequestID:   m.cfg.Allocator.Peek(),
	}
}

// Registry returns the callback registry the manager dispatches through.
func (m *Manager) Registry() *callback.Registry { return m.cfg.Registry }

// Allocator returns the request id allocator reseeded by the handshake.
func (m *Manager) Allocator() *reqid.Allocator { return m.cfg.Allocator }

// Dispatcher returns the dispatcher inbound messages are handed to.
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.cfg.Dispatcher }

func (m *Manager) setState(s State) {
	m.state = s
	m.cfg.Metrics.SetState(int(s))
}

// resetConnectedLocked replaces a closed connected channel so later
// AwaitConnected calls block again. m.mu must be held.
func (m *Manager) resetConnectedLocked() {
	select {
	case <-m.connectedCh:
		m.connectedCh = make(chan struct{})
	default:
	}
}

func (m *Manager) handlerContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, m)
}

// Owns reports whether ctx was handed to a handler by m.
func (m *Manager) Owns(ctx context.Context) bool {
	owner, _ := ctx.Value(ownerKey{}).(*Manager)
	return owner == m
}

func (m *Manager) invalidatePending(ctx context.Context, cause error) {
	pending := m.cfg.Registry.InvalidateAll()
	if len(pending) == 0 {
		m.cfg.Metrics.SetPending(0)
		return
	}

	m.logger.Info("terminating pending requests", "count", len(pending))
	m.cfg.Dispatcher.Notify(ctx, pending, cause)
}
