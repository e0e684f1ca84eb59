package transport

import (
	"context"
	"net"
)

// Dialer opens connections to a gateway.
type Dialer interface {
	// Dial connects to address ("host:port").
	Dial(ctx context.Context, address string) (net.Conn, error)

	// Close releases long-lived resources held by the dialer. Stateless
	// dialers return nil.
	Close() error
}
