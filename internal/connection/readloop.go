package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/wire"
)

// readLoop pumps frames from conn to the dispatcher until conn fails or
// ctx is canceled by Disconnect.
func (m *Manager) readLoop(ctx context.Context, conn net.Conn, done chan struct{}) {
	defer close(done)

	hctx := m.handlerContext(ctx)

	for {
		payload, err := wire.ReadFrame(conn, m.cfg.MaxFrameSize)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Debug("read loop stopped")
				return
			}
			m.readFault(conn, err)
			return
		}
		m.cfg.Metrics.MessageReceived()

		msg, err := m.cfg.Decoder.Decode(payload)
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				m.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			m.readFault(conn, err)
			return
		}

		// No dispatch once Disconnect has begun.
		if ctx.Err() != nil {
			return
		}

		m.absorb(msg)
		m.cfg.Dispatcher.Dispatch(hctx, msg)
	}
}

// readFault forces the manager to Disconnected after the read loop fails
// on its own, then notifies pending requests and fault observers.
func (m *Manager) readFault(conn net.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn || m.state != Connected {
		m.mu.Unlock()
		return
	}
	addr := m.addr
	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.conn = nil
	m.loopCancel = nil
	m.loopDone = nil
	m.connectedSince = time.Time{}
	m.resetConnectedLocked()
	m.setState(Disconnected)
	m.mu.Unlock()

	conn.Close()

	fault := &Error{Kind: KindReadLoopFault, Op: "read", Addr: addr, Err: cause}
	m.logger.Error("read loop fault", "addr", addr, "error", cause)

	m.invalidatePending(m.handlerContext(context.Background()),
		fmt.Errorf("%w: %w", callback.ErrSessionTerminated, fault))

	m.faultMu.Lock()
	observers := append([]func(error){}, m.onFault...)
	m.faultMu.Unlock()

	for _, fn := range observers {
		fn(fault)
	}
}
