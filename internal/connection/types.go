package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/dispatch"
	"github.com/rickgao/gwsession/internal/metrics"
	"github.com/rickgao/gwsession/internal/reqid"
	"github.com/rickgao/gwsession/internal/transport"
	"github.com/rickgao/gwsession/internal/wire"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnectionTimeout = errors.New("timed out waiting for connection")
	ErrInvalidState      = errors.New("invalid connection state")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrReadLoopFault     = errors.New("read loop fault")
	ErrConnectAborted    = errors.New("connect aborted by disconnect")
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Kind classifies an Error.
type Kind int

const (
	KindConnectionFailed Kind = iota + 1
	KindReadLoopFault
)

// Error describes a failed connect or a read loop that ended unexpectedly.
type Error struct {
	Kind Kind
	Op   string // "dial", "handshake", "read"
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrConnectionFailed or ErrReadLoopFault by kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindConnectionFailed:
		return target == ErrConnectionFailed
	case KindReadLoopFault:
		return target == ErrReadLoopFault
	}
	return false
}

// Config configures a Manager.
type Config struct {
	SessionID uuid.UUID

	Dialer     transport.Dialer
	Decoder    wire.Decoder
	Registry   *callback.Registry
	Dispatcher *dispatch.Dispatcher
	Allocator  *reqid.Allocator
	Metrics    *metrics.Collector // optional

	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	DisconnectTimeout time.Duration
	MaxFrameSize      int

	// ConnectOptions is appended to the client hello (e.g. "+PACEAPI").
	ConnectOptions string
	// Capabilities is sent with the start-API message.
	Capabilities string
}

// DefaultConfig returns timeouts suited to a local gateway. Collaborators
// left nil are created by NewManager.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		MaxFrameSize:      wire.DefaultMaxFrameSize,
	}
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	SessionID       uuid.UUID
	Host            string
	Port            int
	ClientID        int
	State           State
	ServerVersion   int
	ConnectionTime  string
	ManagedAccounts []string
	ConnectedSince  time.Time
	PendingRequests int
	NextRequestID   int64
}
