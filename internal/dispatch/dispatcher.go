package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/metrics"
)

// ErrHandlerPanic wraps a panic recovered from a handler.
var ErrHandlerPanic = errors.New("handler panicked")

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of dispatch shards. Zero dispatches inline on
	// the caller's goroutine (the session read loop).
	Workers int

	// QueueSize is the per-shard queue depth. A full queue applies
	// backpressure to the read loop rather than dropping events.
	QueueSize int

	// HandlerTimeout, when set, logs handlers that run longer than it.
	// Handlers are never interrupted.
	HandlerTimeout time.Duration
}

// DefaultOptions returns inline dispatch with a 1024-deep queue for
// sharded mode.
func DefaultOptions() Options {
	return Options{
		Workers:   0,
		QueueSize: 1024,
	}
}

// Observer sees every message before handler lookup.
type Observer func(msg callback.Message)

type job struct {
	ctx context.Context
	msg callback.Message
}

// shardKey carries the lock of the shard a handler runs on.
type shardKey struct{}

// Dispatcher routes messages to handlers held in a callback.Registry.
type Dispatcher struct {
	registry *callback.Registry
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Collector

	obsMu     sync.RWMutex
	observers []Observer

	runMu   sync.Mutex
	running bool
	shards  []chan job
	locks   []*sync.Mutex // held while a shard delivers
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Dispatcher. The metrics collector may be nil.
func New(registry *callback.Registry, opts Options, logger *slog.Logger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 0 {
		opts.Workers = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}

	return &Dispatcher{
		registry: registry,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Observe adds an observer that is called for every dispatched message.
func (d *Dispatcher) Observe(o Observer) {
	d.obsMu.Lock()
	d.observers = append(d.observers, o)
	d.obsMu.Unlock()
}

// Start launches the shard workers. It is a no-op in inline mode or when
// already running.
func (d *Dispatcher) Start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.running {
		return
	}
	d.running = true

	if d.opts.Workers == 0 {
		return
	}

	d.stop = make(chan struct{})
	d.shards = make([]chan job, d.opts.Workers)
	d.locks = make([]*sync.Mutex, d.opts.Workers)
	for i := range d.shards {
		q := make(chan job, d.opts.QueueSize)
		d.shards[i] = q
		d.locks[i] = &sync.Mutex{}
		d.wg.Add(1)
		go d.worker(q, d.locks[i], d.stop)
	}

	d.logger.Debug("dispatcher started", "workers", d.opts.Workers)
}

// Stop halts the shard workers and waits for in-flight handlers, bounded
// by ctx. Queued events that were not yet delivered are discarded.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return nil
	}
	d.running = false
	stop := d.stop
	d.stop = nil
	d.shards = nil
	d.runMu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out, handler still running")
		return ctx.Err()
	}
}

// Dispatch delivers msg. In inline mode the handler runs before Dispatch
// returns; in sharded mode msg is queued on its key's shard and dropped
// if ctx is done before a worker reaches it. Messages dispatched while a
// sharded dispatcher is stopped are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg callback.Message) {
	if d.opts.Workers == 0 {
		d.deliver(ctx, msg)
		return
	}

	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		d.logger.Debug("dispatcher stopped, dropping message", "key", msg.Key.String())
		return
	}
	q := d.shards[shardFor(msg.Key, len(d.shards))]
	stop := d.stop
	d.runMu.Unlock()

	select {
	case q <- job{ctx: ctx, msg: msg}:
	case <-stop:
	case <-ctx.Done():
	}
}

// Notify delivers a terminal message carrying cause to each pending
// request's handler. In sharded mode each notification waits for the
// request's shard to finish its current delivery; queued deliveries whose
// ctx is already canceled are then skipped, so none can follow it.
func (d *Dispatcher) Notify(ctx context.Context, pending []*callback.Pending, cause error) {
	d.runMu.Lock()
	locks := d.locks
	d.runMu.Unlock()

	now := time.Now()
	for _, p := range pending {
		if p.Handler == nil {
			continue
		}
		msg := callback.Message{
			Key:        callback.RequestKey(p.ID),
			Name:       "sessionTerminated",
			End:        true,
			Err:        cause,
			ReceivedAt: now,
		}
		unlock := lockShard(ctx, locks, msg.Key)
		d.run(ctx, p.Handler, msg)
		unlock()
	}
	d.metrics.SetPending(d.registry.PendingCount())
}

// lockShard locks the shard owning key unless ctx shows the caller is
// already running on it.
func lockShard(ctx context.Context, locks []*sync.Mutex, key callback.Key) func() {
	if len(locks) == 0 {
		return func() {}
	}
	mu := locks[shardFor(key, len(locks))]
	if held, _ := ctx.Value(shardKey{}).(*sync.Mutex); held == mu {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

func (d *Dispatcher) worker(q <-chan job, mu *sync.Mutex, stop <-chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-stop:
			return
		case j := <-q:
			select {
			case <-stop:
				return
			default:
			}
			mu.Lock()
			// Skip messages from a session that has since closed.
			if j.ctx.Err() == nil {
				d.deliver(context.WithValue(j.ctx, shardKey{}, mu), j.msg)
			}
			mu.Unlock()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg callback.Message) {
	d.obsMu.RLock()
	observers := d.observers
	d.obsMu.RUnlock()
	for _, o := range observers {
		o(msg)
	}

	h, ok := d.registry.Lookup(msg.Key)
	if ok {
		d.run(ctx, h, msg)
	} else {
		d.logger.Debug("no handler registered, dropping",
			"key", msg.Key.String(),
			"name", msg.Name,
		)
		d.metrics.Dispatched(metrics.OutcomeUnhandled)
	}

	if msg.End && msg.Key.IsRequest() {
		if _, ok := d.registry.Complete(msg.Key.ReqID); ok {
			d.metrics.SetPending(d.registry.PendingCount())
		}
	}
}

// run invokes h with faults contained and logged.
func (d *Dispatcher) run(ctx context.Context, h callback.Handler, msg callback.Message) {
	start := time.Now()
	err := invoke(ctx, h, msg)
	elapsed := time.Since(start)

	d.metrics.ObserveHandler(elapsed)
	if d.opts.HandlerTimeout > 0 && elapsed > d.opts.HandlerTimeout {
		d.logger.Warn("slow handler",
			"key", msg.Key.String(),
			"elapsed", elapsed,
			"limit", d.opts.HandlerTimeout,
		)
	}

	if err != nil {
		d.logger.Error("handler fault",
			"key", msg.Key.String(),
			"name", msg.Name,
			"error", err,
		)
		d.metrics.Dispatched(metrics.OutcomeFault)
		return
	}
	d.metrics.Dispatched(metrics.OutcomeHandled)
}

func invoke(ctx context.Context, h callback.Handler, msg callback.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, msg)
}

func shardFor(key callback.Key, n int) int {
	if n <= 1 {
		return 0
	}
	if key.IsRequest() {
		id := key.ReqID
		if id < 0 {
			id = -id
		}
		return int(id % int64(n))
	}
	h := fnv.New32a()
	h.Write([]byte(key.Event))
	return int(h.Sum32() % uint32(n))
}
