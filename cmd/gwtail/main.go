// gwtail connects to a gateway and prints inbound push events to the console.
// Usage: go run ./cmd/gwtail --host 127.0.0.1 --port 4002 --client-id 9
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/gwsession/internal/callback"
	"github.com/rickgao/gwsession/internal/config"
	"github.com/rickgao/gwsession/internal/gateway"
	"github.com/rickgao/gwsession/internal/session"
	"github.com/rickgao/gwsession/internal/wire"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	host := pflag.String("host", "", "gateway host (overrides config)")
	port := pflag.Int("port", 0, "gateway port (overrides config)")
	clientID := pflag.Int("client-id", -1, "client id (overrides config)")
	events := pflag.StringSlice("events", nil, "push events to print (default all)")
	verbose := pflag.Bool("verbose", false, "print full message JSON")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer, err := gateway.NewDialer(cfg, logger)
	if err != nil {
		logger.Error("failed to build transport", "error", err)
		os.Exit(1)
	}
	defer dialer.Close()

	sess := session.New(gateway.SessionConfig(cfg),
		session.WithLogger(logger),
		session.WithDialer(dialer),
	)

	names := *events
	if len(names) == 0 {
		names = pushEvents(wire.DefaultTable())
	}
	p := &printer{out: os.Stdout, verbose: *verbose}
	batch := make(map[callback.Key]callback.Handler, len(names))
	for _, name := range names {
		batch[callback.EventKey(name)] = p.handle
	}
	sess.RegisterCallbacks(batch)

	if err := sess.Connect(ctx, cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ClientID); err != nil {
		logger.Error("failed to connect", "error", err)
		dialer.Close()
		os.Exit(1)
	}
	sess.OnFault(func(err error) {
		logger.Error("session dropped", "error", err)
		stop()
	})
	sess.LogStatus()

	// Status printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sess.LogStatus()
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "events", len(names))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	sess.Disconnect(shutdownCtx)
	logger.Info("shutdown complete", "printed", p.printed())
}

// pushEvents lists every event name the table can deliver as a push event.
func pushEvents(table wire.Table) []string {
	seen := make(map[string]bool)
	for _, r := range table {
		if r.ReqIDField == 0 || r.PushIfNoID {
			seen[r.Name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type printer struct {
	out     io.Writer
	verbose bool

	mu    sync.Mutex
	count int
}

// handle may run on several dispatch shards at once.
func (p *printer) handle(_ context.Context, msg callback.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	if p.verbose {
		data, err := json.MarshalIndent(struct {
			Key        string    `json:"key"`
			Name       string    `json:"name"`
			Fields     []string  `json:"fields"`
			ReceivedAt time.Time `json:"received_at"`
		}{msg.Key.String(), msg.Name, msg.Fields, msg.ReceivedAt}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "[%s] %s\n", strings.ToUpper(msg.Name), data)
		return err
	}
	_, err := fmt.Fprintf(p.out, "[%s] %s\n", strings.ToUpper(msg.Name), strings.Join(msg.Fields, "|"))
	return err
}

func (p *printer) printed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
