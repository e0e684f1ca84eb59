package connection

import (
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/rickgao/gwsession/internal/wire"
)

// fakeGateway speaks the gateway handshake on 127.0.0.1:0.
type fakeGateway struct {
	t  *testing.T
	ln net.Listener

	nextID      int64
	accounts    string
	rejectHello bool
	skipNextID  bool

	conns    chan net.Conn
	received chan []string

	mu        sync.Mutex
	clientIDs []string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	g := &fakeGateway{
		t:        t,
		ln:       ln,
		nextID:   1,
		accounts: "DU123,DU456",
		conns:    make(chan net.Conn, 4),
		received: make(chan []string, 64),
	}
	t.Cleanup(func() { ln.Close() })
	return g
}

func (g *fakeGateway) start() {
	go func() {
		for {
			conn, err := g.ln.Accept()
			if err != nil {
				return
			}
			go g.serve(conn)
		}
	}()
}

func (g *fakeGateway) hostPort() (string, int) {
	addr := g.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (g *fakeGateway) serve(conn net.Conn) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(conn, prefix); err != nil || string(prefix) != "API\x00" {
		conn.Close()
		return
	}
	if _, err := wire.ReadFrame(conn, 0); err != nil {
		conn.Close()
		return
	}
	if g.rejectHello {
		conn.Close()
		return
	}

	wire.WriteFrame(conn, wire.EncodeFields("176", "20240315 09:30:00 EST"))

	start, err := wire.ReadFrame(conn, 0)
	if err != nil {
		conn.Close()
		return
	}
	fields := wire.Split(start)
	if len(fields) < 3 || fields[0] != "71" {
		conn.Close()
		return
	}
	g.mu.Lock()
	g.clientIDs = append(g.clientIDs, fields[2])
	g.mu.Unlock()

	wire.WriteFrame(conn, wire.EncodeFields("15", "1", g.accounts))
	if !g.skipNextID {
		wire.WriteFrame(conn, wire.EncodeFields("9", "1", strconv.FormatInt(g.nextID, 10)))
	}
	g.conns <- conn

	for {
		payload, err := wire.ReadFrame(conn, 0)
		if err != nil {
			return
		}
		g.received <- wire.Split(payload)
	}
}

func push(t *testing.T, conn net.Conn, fields ...string) {
	t.Helper()
	if err := wire.WriteFrame(conn, wire.EncodeFields(fields...)); err != nil {
		t.Fatalf("push %v: %v", fields, err)
	}
}

func writeFields(conn net.Conn, fields ...string) error {
	return wire.WriteFrame(conn, wire.EncodeFields(fields...))
}
