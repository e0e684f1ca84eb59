package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/wire"
)

// Outbound reqCurrentTime and its inbound currentTime reply.
const (
	msgReqCurrentTime = "49"
	reqVersion        = "1"
	replyEvent        = "currentTime"
)

// Target is the session being probed.
type Target interface {
	IsConnected() bool
	Send(raw []byte) error
	RegisterCallback(key callback.Key, h callback.Handler)
}

// Config holds prober configuration.
type Config struct {
	Interval time.Duration // time between probes
	Timeout  time.Duration // reply deadline per probe
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Prober periodically sends reqCurrentTime and watches for replies.
type Prober struct {
	cfg    Config
	target Target
	logger *slog.Logger

	mu        sync.Mutex
	sentAt    time.Time // zero when no probe is outstanding
	lastReply time.Time
	stale     bool
	onStale   []func(waited time.Duration)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Prober and binds the currentTime event on target.
func New(cfg Config, target Target, logger *slog.Logger) *Prober {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Prober{
		cfg:    cfg,
		target: target,
		logger: logger.With("component", "heartbeat"),
	}
	target.RegisterCallback(callback.EventKey(replyEvent), p.handleReply)
	return p
}

// OnStale registers fn to run once per unanswered probe.
func (p *Prober) OnStale(fn func(waited time.Duration)) {
	p.mu.Lock()
	p.onStale = append(p.onStale, fn)
	p.mu.Unlock()
}

// Start begins the probe loop.
func (p *Prober) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("heartbeat started",
		"interval", p.cfg.Interval,
		"timeout", p.cfg.Timeout,
	)
	return nil
}

// Stop shuts down the probe loop.
func (p *Prober) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("heartbeat stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastReply returns when the gateway last answered a probe.
func (p *Prober) LastReply() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReply
}

// Stale reports whether the latest probe went unanswered past its timeout.
func (p *Prober) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stale
}

func (p *Prober) run() {
	defer p.wg.Done()

	probe := time.NewTicker(p.cfg.Interval)
	defer probe.Stop()

	check := time.NewTicker(p.checkEvery())
	defer check.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-probe.C:
			p.probe()
		case now := <-check.C:
			p.check(now)
		}
	}
}

func (p *Prober) checkEvery() time.Duration {
	d := p.cfg.Timeout / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// probe sends one reqCurrentTime unless one is already outstanding.
func (p *Prober) probe() {
	if !p.target.IsConnected() {
		p.mu.Lock()
		p.sentAt = time.Time{}
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if !p.sentAt.IsZero() {
		p.mu.Unlock()
		return
	}
	p.sentAt = time.Now()
	p.mu.Unlock()

	if err := p.target.Send(wire.EncodeFields(msgReqCurrentTime, reqVersion)); err != nil {
		p.logger.Warn("heartbeat send failed", "error", err)
		p.mu.Lock()
		p.sentAt = time.Time{}
		p.mu.Unlock()
	}
}

// check fires the stale observers once when the outstanding probe is late.
func (p *Prober) check(now time.Time) {
	p.mu.Lock()
	if p.sentAt.IsZero() || p.stale {
		p.mu.Unlock()
		return
	}
	waited := now.Sub(p.sentAt)
	if waited < p.cfg.Timeout {
		p.mu.Unlock()
		return
	}
	p.stale = true
	observers := append([]func(time.Duration){}, p.onStale...)
	p.mu.Unlock()

	p.logger.Warn("gateway not answering heartbeat", "waited", waited)
	for _, fn := range observers {
		fn(waited)
	}
}

func (p *Prober) handleReply(_ context.Context, msg callback.Message) error {
	p.mu.Lock()
	wasStale := p.stale
	rtt := time.Duration(0)
	if !p.sentAt.IsZero() {
		rtt = msg.ReceivedAt.Sub(p.sentAt)
	}
	p.sentAt = time.Time{}
	p.stale = false
	p.lastReply = msg.ReceivedAt
	p.mu.Unlock()

	if wasStale {
		p.logger.Info("gateway answering heartbeat again")
	}
	p.logger.Debug("heartbeat reply", "rtt", rtt, "fields", msg.Fields)
	return nil
}
