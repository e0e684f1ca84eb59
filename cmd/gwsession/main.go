package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gwsession/internal/config"
	"github.com/rickgao/gwsession/internal/database"
	"github.com/rickgao/gwsession/internal/gateway"
	"github.com/rickgao/gwsession/internal/heartbeat"
	"github.com/rickgao/gwsession/internal/metrics"
	"github.com/rickgao/gwsession/internal/recorder"
	"github.com/rickgao/gwsession/internal/session"
	"github.com/rickgao/gwsession/internal/supervisor"
	"github.com/rickgao/gwsession/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults only when empty)")
	host := pflag.String("host", "", "gateway host (overrides config)")
	port := pflag.Int("port", 0, "gateway port (overrides config)")
	clientID := pflag.Int("client-id", -1, "client id (overrides config)")
	statusInterval := pflag.Duration("status-interval", time.Minute, "interval between connection status log lines, 0 disables")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Gateway.Host = *host
	}
	if *port != 0 {
		cfg.Gateway.Port = *port
	}
	if *clientID >= 0 {
		cfg.Gateway.ClientID = *clientID
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting gwsession",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *statusInterval, logger); err != nil {
		logger.Error("gwsession failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gwsession stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadWithDefaults(path)
}

func run(ctx context.Context, cfg *config.Config, statusInterval time.Duration, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dialer, err := gateway.NewDialer(cfg, logger)
	if err != nil {
		return err
	}
	defer dialer.Close()

	sess := session.New(gateway.SessionConfig(cfg),
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithDialer(dialer),
	)
	logger = logger.With("session_id", sess.ID().String())

	var pool *pgxpool.Pool
	var rec *recorder.Writer
	if cfg.Recorder.Enabled {
		pool, err = database.Connect(ctx, cfg.Recorder.Database, logger)
		if err != nil {
			return fmt.Errorf("connect recorder database: %w", err)
		}
		defer pool.Close()

		if err := recorder.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		rec = recorder.New(recorder.Config{
			Events:        cfg.Recorder.Events,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, sess.ID(), pool, logger)
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		sess.RegisterCallbacks(rec.Handlers())
	}

	sup := supervisor.New(sess, supervisor.Config{
		Host:        cfg.Gateway.Host,
		Port:        cfg.Gateway.Port,
		ClientID:    cfg.Gateway.ClientID,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,

		ConnectTimeout: cfg.Gateway.ConnectTimeout,
	}, logger)
	sup.OnReconnect(func(ctx context.Context) error {
		sess.LogStatus()
		return nil
	})

	if cfg.Reconnect.Enabled {
		err = sup.Connect(ctx)
	} else {
		err = sess.Connect(ctx, cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ClientID)
	}
	if err == nil {
		err = sess.AwaitConnected(ctx, cfg.Gateway.ConnectTimeout)
	}
	if err != nil {
		if rec != nil {
			rec.Stop(context.Background())
		}
		return fmt.Errorf("connect gateway: %w", err)
	}
	sess.LogStatus()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Metrics.Port)),
		Handler:           newHTTPHandler(cfg.Metrics.Path, reg, sess, pool),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var hb *heartbeat.Prober
	if cfg.Heartbeat.Interval > 0 {
		hb = heartbeat.New(heartbeat.Config{
			Interval: cfg.Heartbeat.Interval,
			Timeout:  cfg.Heartbeat.Timeout,
		}, sess, logger)
		hb.OnStale(func(time.Duration) { sess.LogStatus() })
		hb.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", srv.Addr, "metrics_path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Reconnect.Enabled {
		g.Go(func() error {
			if err := sup.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("supervisor: %w", err)
			}
			return nil
		})
	} else {
		done := make(chan struct{})
		var once sync.Once
		sess.OnFault(func(err error) {
			logger.Error("session dropped", "error", err)
			once.Do(func() { close(done) })
		})
		g.Go(func() error {
			select {
			case <-done:
				return errors.New("session dropped and reconnect is disabled")
			case <-gctx.Done():
				return nil
			}
		})
	}

	if statusInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					sess.LogStatus()
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
		if hb != nil {
			hb.Stop(shutdownCtx)
		}
		if err := sess.Disconnect(shutdownCtx); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
		if rec != nil {
			rec.Stop(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
