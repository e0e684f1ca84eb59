package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/wire"
)

// mockTarget records sends and exposes the bound reply handler.
type mockTarget struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      [][]string
	handlers  map[callback.Key]callback.Handler
}

func newMockTarget() *mockTarget {
	return &mockTarget{connected: true, handlers: make(map[callback.Key]callback.Handler)}
}

func (m *mockTarget) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTarget) Send(raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, wire.Split(raw))
	return nil
}

func (m *mockTarget) RegisterCallback(key callback.Key, h callback.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key] = h
}

func (m *mockTarget) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTarget) reply() {
	m.mu.Lock()
	h := m.handlers[callback.EventKey("currentTime")]
	m.mu.Unlock()
	h(context.Background(), callback.Message{
		Key:        callback.EventKey("currentTime"),
		Name:       "currentTime",
		Fields:     []string{"49", "1", "1700000000"},
		ReceivedAt: time.Now(),
	})
}

func TestProber_BindsReplyEvent(t *testing.T) {
	target := newMockTarget()
	New(DefaultConfig(), target, nil)

	if _, ok := target.handlers[callback.EventKey("currentTime")]; !ok {
		t.Error("currentTime handler not registered")
	}
}

func TestProber_ProbeSendsOnce(t *testing.T) {
	target := newMockTarget()
	p := New(Config{Interval: time.Hour, Timeout: time.Hour}, target, nil)

	p.probe()
	p.probe() // outstanding, not resent

	if n := target.sentCount(); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
	if got := target.sent[0]; len(got) != 2 || got[0] != "49" || got[1] != "1" {
		t.Errorf("sent fields = %v, want [49 1]", got)
	}

	target.reply()
	p.probe()
	if n := target.sentCount(); n != 2 {
		t.Errorf("sent after reply = %d, want 2", n)
	}
	if p.LastReply().IsZero() {
		t.Error("LastReply() is zero after reply")
	}
}

func TestProber_SkipsWhenDisconnected(t *testing.T) {
	target := newMockTarget()
	target.connected = false
	p := New(Config{Interval: time.Hour, Timeout: time.Hour}, target, nil)

	p.probe()
	if n := target.sentCount(); n != 0 {
		t.Errorf("sent = %d, want 0 while disconnected", n)
	}
}

func TestProber_SendErrorClearsOutstanding(t *testing.T) {
	target := newMockTarget()
	target.sendErr = errors.New("not connected")
	p := New(Config{Interval: time.Hour, Timeout: time.Millisecond}, target, nil)

	p.probe()
	p.check(time.Now().Add(time.Second))
	if p.Stale() {
		t.Error("Stale() = true after failed send")
	}
}

func TestProber_StaleFiresOnce(t *testing.T) {
	target := newMockTarget()
	p := New(Config{Interval: time.Hour, Timeout: time.Second}, target, nil)

	var fired int
	p.OnStale(func(waited time.Duration) { fired++ })

	p.probe()
	p.check(time.Now()) // within timeout
	if fired != 0 {
		t.Fatalf("fired = %d before timeout, want 0", fired)
	}

	later := time.Now().Add(2 * time.Second)
	p.check(later)
	p.check(later.Add(time.Second))
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if !p.Stale() {
		t.Error("Stale() = false, want true")
	}

	target.reply()
	if p.Stale() {
		t.Error("Stale() = true after reply")
	}
}

func TestProber_StartStop(t *testing.T) {
	target := newMockTarget()
	p := New(Config{Interval: 10 * time.Millisecond, Timeout: time.Second}, target, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for target.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if target.sentCount() == 0 {
		t.Error("no probe sent after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
