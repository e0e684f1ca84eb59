package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/metrics"
)

func reqMsg(id int64, field string, end bool) callback.Message {
	return callback.Message{
		Key:        callback.RequestKey(id),
		Name:       "test",
		Fields:     []string{field},
		End:        end,
		ReceivedAt: time.Now(),
	}
}

func TestDispatchInlineDelivers(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, DefaultOptions(), nil, nil)
	d.Start()
	defer d.Stop(context.Background())

	var got []string
	reg.Register(callback.EventKey("tick"), func(ctx context.Context, msg callback.Message) error {
		got = append(got, msg.Fields[0])
		return nil
	})

	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("tick"), Fields: []string{"a"}})
	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("tick"), Fields: []string{"b"}})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got = %v, want [a b]", got)
	}
}

func TestDispatchPerKeyOrderSharded(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, Options{Workers: 4, QueueSize: 16}, nil, nil)
	d.Start()
	defer d.Stop(context.Background())

	var (
		mu   sync.Mutex
		seen = map[int64][]string{}
		wg   sync.WaitGroup
	)
	h := func(ctx context.Context, msg callback.Message) error {
		defer wg.Done()
		mu.Lock()
		seen[msg.Key.ReqID] = append(seen[msg.Key.ReqID], msg.Fields[0])
		mu.Unlock()
		return nil
	}
	reg.Register(callback.RequestKey(5), h)
	reg.Register(callback.RequestKey(7), h)

	const n = 200
	wg.Add(2*n + 1)
	for i := 0; i < n; i++ {
		d.Dispatch(context.Background(), reqMsg(5, strconv.Itoa(i), false))
		if i == 0 {
			d.Dispatch(context.Background(), reqMsg(7, "seq1", false))
		}
		d.Dispatch(context.Background(), reqMsg(5, strconv.Itoa(n+i), false))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(seen[7]) != 1 {
		t.Errorf("key 7 deliveries = %d, want 1", len(seen[7]))
	}
	// Each iteration dispatched i then n+i, so order for key 5 must be
	// 0, n, 1, n+1, ...
	want := make([]string, 0, 2*n)
	for i := 0; i < n; i++ {
		want = append(want, strconv.Itoa(i), strconv.Itoa(n+i))
	}
	if len(seen[5]) != len(want) {
		t.Fatalf("key 5 deliveries = %d, want %d", len(seen[5]), len(want))
	}
	for i := range want {
		if seen[5][i] != want[i] {
			t.Fatalf("key 5 delivery %d = %s, want %s", i, seen[5][i], want[i])
		}
	}
}

func TestDispatchFaultIsolation(t *testing.T) {
	reg := callback.NewRegistry()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	d := New(reg, DefaultOptions(), nil, m)
	d.Start()
	defer d.Stop(context.Background())

	reg.Register(callback.EventKey("boom"), func(ctx context.Context, msg callback.Message) error {
		panic("kaboom")
	})
	reg.Register(callback.EventKey("bad"), func(ctx context.Context, msg callback.Message) error {
		return errors.New("bad handler")
	})
	var okCalls int
	reg.Register(callback.EventKey("ok"), func(ctx context.Context, msg callback.Message) error {
		okCalls++
		return nil
	})

	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("boom")})
	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("bad")})
	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("ok")})
	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("nobody")})

	if okCalls != 1 {
		t.Errorf("okCalls = %d, want 1", okCalls)
	}

	const want = `
# HELP gwsession_dispatched_total Dispatched messages by outcome.
# TYPE gwsession_dispatched_total counter
gwsession_dispatched_total{outcome="fault"} 2
gwsession_dispatched_total{outcome="handled"} 1
gwsession_dispatched_total{outcome="unhandled"} 1
`
	if err := testutil.GatherAndCompare(promReg, strings.NewReader(want), "gwsession_dispatched_total"); err != nil {
		t.Error(err)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	err := invoke(context.Background(), func(ctx context.Context, msg callback.Message) error {
		panic("x")
	}, callback.Message{})
	if !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("invoke error = %v, want ErrHandlerPanic", err)
	}
}

func TestDispatchCompletesPendingOnEnd(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, DefaultOptions(), nil, nil)

	var calls int
	reg.Track(42, func(ctx context.Context, msg callback.Message) error {
		calls++
		return nil
	})

	d.Dispatch(context.Background(), reqMsg(42, "row", false))
	if reg.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1 before end", reg.PendingCount())
	}
	d.Dispatch(context.Background(), reqMsg(42, "end", true))
	if reg.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after end", reg.PendingCount())
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	// Later messages for the completed id have no handler.
	d.Dispatch(context.Background(), reqMsg(42, "late", false))
	if calls != 2 {
		t.Errorf("calls after completion = %d, want 2", calls)
	}
}

func TestNotifyDeliversCause(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, DefaultOptions(), nil, nil)

	var got []callback.Message
	h := func(ctx context.Context, msg callback.Message) error {
		got = append(got, msg)
		return nil
	}
	reg.Track(1, h)
	reg.Track(2, h)

	d.Notify(context.Background(), reg.InvalidateAll(), callback.ErrSessionTerminated)

	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	for i, msg := range got {
		if msg.Key.ReqID != int64(i+1) {
			t.Errorf("notification %d id = %d, want %d", i, msg.Key.ReqID, i+1)
		}
		if !errors.Is(msg.Err, callback.ErrSessionTerminated) {
			t.Errorf("notification %d err = %v, want ErrSessionTerminated", i, msg.Err)
		}
		if !msg.End {
			t.Errorf("notification %d End = false, want true", i)
		}
	}
}

func TestObserverSeesEveryMessage(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, DefaultOptions(), nil, nil)

	var names []string
	d.Observe(func(msg callback.Message) { names = append(names, msg.Key.String()) })

	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("a")})
	d.Dispatch(context.Background(), reqMsg(3, "x", false))

	if len(names) != 2 || names[0] != "event:a" || names[1] != "req:3" {
		t.Errorf("observed = %v, want [event:a req:3]", names)
	}
}

func TestShardedStopDropsLaterDispatch(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, Options{Workers: 2, QueueSize: 4}, nil, nil)
	d.Start()

	var calls int
	var mu sync.Mutex
	reg.Register(callback.EventKey("x"), func(ctx context.Context, msg callback.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("x")})

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("calls after stop = %d, want 0", calls)
	}
}

func TestShardForStable(t *testing.T) {
	k := callback.EventKey("tickPrice")
	first := shardFor(k, 8)
	for i := 0; i < 10; i++ {
		if got := shardFor(k, 8); got != first {
			t.Fatalf("shardFor() = %d, want %d", got, first)
		}
	}
	if got := shardFor(callback.RequestKey(-3), 4); got < 0 || got >= 4 {
		t.Errorf("shardFor(-3) = %d, out of range", got)
	}
}

func TestNotifyWaitsForShardDelivery(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, Options{Workers: 2, QueueSize: 8}, nil, nil)
	d.Start()
	defer d.Stop(context.Background())

	var mu sync.Mutex
	var seen []string
	entered := make(chan struct{})
	var once sync.Once
	reg.Track(4, func(ctx context.Context, msg callback.Message) error {
		if msg.Name == "test" {
			once.Do(func() { close(entered) })
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		seen = append(seen, msg.Name)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, reqMsg(4, "a", false))
	d.Dispatch(ctx, reqMsg(4, "b", false))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
	cancel()
	d.Notify(context.Background(), reg.InvalidateAll(), callback.ErrSessionTerminated)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "test" || seen[1] != "sessionTerminated" {
		t.Errorf("handler saw %v, want [test sessionTerminated]", seen)
	}
}

func TestNotifyFromOwnShardDoesNotDeadlock(t *testing.T) {
	reg := callback.NewRegistry()
	d := New(reg, Options{Workers: 1, QueueSize: 8}, nil, nil)
	d.Start()
	defer d.Stop(context.Background())

	got := make(chan error, 1)
	reg.Track(2, func(ctx context.Context, msg callback.Message) error {
		if msg.End {
			got <- msg.Err
		}
		return nil
	})
	reg.Register(callback.EventKey("close"), func(ctx context.Context, msg callback.Message) error {
		d.Notify(ctx, reg.InvalidateAll(), callback.ErrSessionTerminated)
		return nil
	})

	d.Dispatch(context.Background(), callback.Message{Key: callback.EventKey("close"), Name: "close"})

	select {
	case err := <-got:
		if !errors.Is(err, callback.ErrSessionTerminated) {
			t.Errorf("notification err = %v, want ErrSessionTerminated", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Notify from a handler on the same shard deadlocked")
	}
}
