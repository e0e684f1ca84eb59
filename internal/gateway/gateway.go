// Package gateway turns a loaded config into the session settings and
// transport the commands connect with.
package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/gwsession/internal/config"
	"github.com/rickgao/gwsession/internal/dispatch"
	"github.com/rickgao/gwsession/internal/session"
	"github.com/rickgao/gwsession/internal/transport"
)

// SessionConfig maps cfg onto session settings.
func SessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.StartRequestID = cfg.Session.StartRequestID
	sc.Dispatch = dispatch.Options{
		Workers:        cfg.Session.DispatchWorkers,
		QueueSize:      cfg.Session.QueueSize,
		HandlerTimeout: cfg.Session.HandlerTimeout,
	}
	sc.HandshakeTimeout = cfg.Gateway.HandshakeTimeout
	sc.WriteTimeout = cfg.Gateway.WriteTimeout
	sc.DisconnectTimeout = cfg.Session.DisconnectTimeout
	sc.MaxFrameSize = cfg.Session.MaxFrameSize
	sc.ConnectOptions = cfg.Gateway.ConnectOptions
	sc.TraceCallbacks = cfg.Logging.TraceCallbacks
	return sc
}

// NewDialer builds the transport named by cfg.Gateway.Transport.
func NewDialer(cfg *config.Config, logger *slog.Logger) (transport.Dialer, error) {
	switch cfg.Gateway.Transport {
	case "tcp":
		return &transport.TCPDialer{Timeout: cfg.Gateway.DialTimeout, KeepAlive: 30 * time.Second}, nil
	case "ssh":
		return transport.NewSSHDialer(transport.SSHConfig{
			Addr:       cfg.SSH.Addr,
			User:       cfg.SSH.User,
			KeyPath:    cfg.SSH.KeyPath,
			Password:   cfg.SSH.Password,
			UseAgent:   cfg.SSH.UseAgent,
			KnownHosts: cfg.SSH.KnownHosts,
			Timeout:    cfg.SSH.Timeout,
		}, logger), nil
	case "websocket":
		return &transport.WebSocketDialer{URL: cfg.Gateway.WSURL, HandshakeTimeout: cfg.Gateway.DialTimeout}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Gateway.Transport)
	}
}
