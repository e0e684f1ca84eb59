package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/connection"
	"github.com/rickgao/gwsession/internal/dispatch"
	"github.com/rickgao/gwsession/internal/metrics"
	"github.com/rickgao/gwsession/internal/reqid"
	"github.com/rickgao/gwsession/internal/transport"
	"github.com/rickgao/gwsession/internal/wire"
)

// Config holds session settings.
type Config struct {
	StartRequestID    int64
	Dispatch          dispatch.Options
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	DisconnectTimeout time.Duration
	MaxFrameSize      int
	ConnectOptions    string

	// TraceCallbacks logs every dispatched message at debug level.
	TraceCallbacks bool
}

// DefaultConfig returns inline dispatch and the connection defaults.
func DefaultConfig() Config {
	conn := connection.DefaultConfig()
	return Config{
		Dispatch:          dispatch.DefaultOptions(),
		HandshakeTimeout:  conn.HandshakeTimeout,
		WriteTimeout:      conn.WriteTimeout,
		DisconnectTimeout: conn.DisconnectTimeout,
		MaxFrameSize:      conn.MaxFrameSize,
	}
}

// Option customizes a Session.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	dialer  transport.Dialer
	decoder wire.Decoder
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(o *options) { o.metrics = m } }

// WithDialer sets the transport used to reach the gateway.
func WithDialer(d transport.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithDecoder replaces the default wire decoder.
func WithDecoder(d wire.Decoder) Option { return func(o *options) { o.decoder = d } }

// Status is a connection status report.
type Status struct {
	connection.Status
	CreatedAt time.Time
}

// Session is one logical connection to the gateway.
type Session struct {
	id        uuid.UUID
	createdAt time.Time
	logger    *slog.Logger

	registry   *callback.Registry
	dispatcher *dispatch.Dispatcher
	allocator  *reqid.Allocator
	manager    *connection.Manager
}

// New creates a disconnected session.
func New(cfg Config, opts ...Option) *Session {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	id := uuid.New()
	logger := o.logger.With("component", "session")

	registry := callback.NewRegistry()
	dispatcher := dispatch.New(registry, cfg.Dispatch, logger, o.metrics)
	allocator := reqid.New(cfg.StartRequestID)

	if cfg.TraceCallbacks {
		trace := logger.With("session_id", id.String())
		dispatcher.Observe(func(msg callback.Message) {
			trace.Debug("callback",
				"key", msg.Key.String(),
				"name", msg.Name,
				"fields", msg.Fields,
			)
		})
	}

	manager := connection.NewManager(connection.Config{
		SessionID:         id,
		Dialer:            o.dialer,
		Decoder:           o.decoder,
		Registry:          registry,
		Dispatcher:        dispatcher,
		Allocator:         allocator,
		Metrics:           o.metrics,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		DisconnectTimeout: cfg.DisconnectTimeout,
		MaxFrameSize:      cfg.MaxFrameSize,
		ConnectOptions:    cfg.ConnectOptions,
	}, logger)

	return &Session{
		id:         id,
		createdAt:  time.Now(),
		logger:     logger,
		registry:   registry,
		dispatcher: dispatcher,
		allocator:  allocator,
		manager:    manager,
	}
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Connect opens the session. See connection.Manager.Connect.
func (s *Session) Connect(ctx context.Context, host string, port, clientID int) error {
	s.dispatcher.Start()
	return s.manager.Connect(ctx, host, port, clientID)
}

// Disconnect closes the session and stops dispatch workers. Safe to call
// from a handler with the handler's context.
func (s *Session) Disconnect(ctx context.Context) error {
	err := s.manager.Disconnect(ctx)
	if s.manager.Owns(ctx) {
		// The calling handler runs on a dispatch worker.
		return err
	}
	if stopErr := s.dispatcher.Stop(ctx); err == nil {
		err = stopErr
	}
	return err
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool { return s.manager.IsConnected() }

// AwaitConnected waits up to timeout for the session to connect.
func (s *Session) AwaitConnected(ctx context.Context, timeout time.Duration) error {
	return s.manager.AwaitConnected(ctx, timeout)
}

// NextRequestID allocates a request id.
func (s *Session) NextRequestID() (int64, error) { return s.allocator.Next() }

// RegisterCallback binds h to key, replacing any earlier binding. A nil
// handler removes the binding.
func (s *Session) RegisterCallback(key callback.Key, h callback.Handler) {
	s.registry.Register(key, h)
}

// RegisterCallbacks binds every entry of batch atomically.
func (s *Session) RegisterCallbacks(batch map[callback.Key]callback.Handler) {
	s.registry.RegisterBatch(batch)
}

// UnregisterCallback removes the binding for key.
func (s *Session) UnregisterCallback(key callback.Key) {
	s.registry.Unregister(key)
}

// OnFault registers fn to run when the session drops on its own.
func (s *Session) OnFault(fn func(error)) { s.manager.OnFault(fn) }

// Send writes an already encoded payload as one frame.
func (s *Session) Send(raw []byte) error { return s.manager.Send(raw) }

// SendRequest encodes fields and sends them. When h is non-nil, id is
// tracked as pending until its terminal message arrives or the session
// ends; a failed send untracks it.
func (s *Session) SendRequest(id int64, h callback.Handler, fields ...string) error {
	if h != nil {
		s.registry.Track(id, h)
	}

	if err := s.manager.Send(wire.EncodeFields(fields...)); err != nil {
		if h != nil {
			s.registry.Complete(id)
		}
		return err
	}

	s.logger.Debug("request sent", "req_id", id, "msg_id", firstField(fields))
	return nil
}

// Status returns a connection status report.
func (s *Session) Status() Status {
	return Status{
		Status:    s.manager.Status(),
		CreatedAt: s.createdAt,
	}
}

// LogStatus writes the status report to the session logger.
func (s *Session) LogStatus() {
	st := s.Status()
	s.logger.Info("connection status",
		"session_id", st.SessionID.String(),
		"host", st.Host,
		"port", st.Port,
		"client_id", st.ClientID,
		"state", st.State.String(),
		"server_version", st.ServerVersion,
		"connection_time", st.ConnectionTime,
		"accounts", st.ManagedAccounts,
		"pending_requests", st.PendingRequests,
		"next_request_id", st.NextRequestID,
	)
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
