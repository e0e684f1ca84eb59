package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rickgao/gwsession/internal/connection"
)

// Target is the session a Supervisor keeps connected.
type Target interface {
	Connect(ctx context.Context, host string, port, clientID int) error
	AwaitConnected(ctx context.Context, timeout time.Duration) error
	OnFault(fn func(error))
}

// Config holds the reconnect policy and the gateway to reconnect to.
type Config struct {
	Host     string
	Port     int
	ClientID int

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // 0 retries until ctx is done

	// ConnectTimeout bounds the wait on a connect already in progress
	// elsewhere.
	ConnectTimeout time.Duration
}

// Hook runs after a successful reconnect.
type Hook func(ctx context.Context) error

// Supervisor reconnects a Target after faults.
type Supervisor struct {
	target Target
	cfg    Config
	logger *slog.Logger

	faults chan error

	hooksMu sync.Mutex
	hooks   []Hook
}

// New creates a Supervisor and subscribes to target's faults.
func New(target Target, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &Supervisor{
		target: target,
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
		faults: make(chan error, 1),
	}

	target.OnFault(func(err error) {
		select {
		case s.faults <- err:
		default:
			// A reconnect is already queued.
		}
	})
	return s
}

// OnReconnect adds a hook run after every reconnect.
func (s *Supervisor) OnReconnect(h Hook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hooksMu.Unlock()
}

// Connect connects the target, retrying with backoff. When another caller
// is already connecting, the attempt succeeds only if that connect
// completes within ConnectTimeout.
func (s *Supervisor) Connect(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.target.Connect(ctx, s.cfg.Host, s.cfg.Port, s.cfg.ClientID)
		if errors.Is(err, connection.ErrInvalidState) {
			return s.target.AwaitConnected(ctx, s.cfg.ConnectTimeout)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("connect attempt failed",
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, s.policy(ctx), notify); err != nil {
		return fmt.Errorf("connect after %d attempts: %w", attempt, err)
	}
	return nil
}

// Run waits for faults and reconnects until ctx is done or a reconnect
// exhausts its attempts.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fault := <-s.faults:
			s.logger.Warn("session dropped, reconnecting", "error", fault)

			if err := s.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			s.logger.Info("reconnected")
			s.runHooks(ctx)
		}
	}
}

func (s *Supervisor) runHooks(ctx context.Context) {
	s.hooksMu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.hooksMu.Unlock()

	for i, h := range hooks {
		if err := h(ctx); err != nil {
			s.logger.Error("reconnect hook failed", "hook", i, "error", err)
		}
	}
}

func (s *Supervisor) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseDelay
	b.MaxInterval = s.cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var policy backoff.BackOff = b
	if s.cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1))
	}
	return backoff.WithContext(policy, ctx)
}
