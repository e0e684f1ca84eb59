package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoSSHAuth is returned when no SSH authentication method is configured.
var ErrNoSSHAuth = errors.New("no ssh authentication method available")

// SSHConfig describes the bastion an SSHDialer forwards through.
type SSHConfig struct {
	Addr       string // bastion "host:port"
	User       string
	KeyPath    string
	Password   string
	UseAgent   bool
	KnownHosts string // empty disables host key checking
	Timeout    time.Duration
}

// SSHDialer forwards gateway connections through an SSH bastion. The SSH
// client is connected on the first Dial and reused until it drops or
// Close is called.
type SSHDialer struct {
	cfg    SSHConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer creates a dialer for cfg.
func NewSSHDialer(cfg SSHConfig, logger *slog.Logger) *SSHDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SSHDialer{cfg: cfg, logger: logger}
}

// Dial connects to address from the bastion.
func (d *SSHDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("ssh forward %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH client.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	clientCfg, agentConn, err := d.clientConfig()
	if err != nil {
		return nil, err
	}
	if agentConn != nil {
		// Agent signers are only consulted during the handshake.
		defer agentConn.Close()
	}

	d.logger.Debug("dialing ssh bastion", "addr", d.cfg.Addr, "user", d.cfg.User)

	dialer := net.Dialer{Timeout: d.cfg.Timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", d.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial bastion %s: %w", d.cfg.Addr, err)
	}

	sshConn, chans, reqs, err := d.handshake(ctx, tcpConn, clientCfg)
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", d.cfg.Addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	go d.monitor(client)

	d.logger.Info("ssh bastion connected", "addr", d.cfg.Addr)
	return client, nil
}

// handshake runs the SSH handshake on conn, bounded by ctx and the
// configured timeout.
func (d *SSHDialer) handshake(ctx context.Context, conn net.Conn, cfg *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, d.cfg.Addr, cfg)
	if !stop() || ctx.Err() != nil {
		if err == nil {
			sshConn.Close()
		}
		return nil, nil, nil, ctx.Err()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, nil, nil, err
	}
	return sshConn, chans, reqs, nil
}

// monitor drops the cached client once its connection closes so the next
// Dial reconnects.
func (d *SSHDialer) monitor(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()

	d.logger.Debug("ssh bastion closed", "addr", d.cfg.Addr, "error", err)
}

// clientConfig builds the SSH client config. The returned closer, when
// non-nil, is the agent connection and must be closed after the handshake.
func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, io.Closer, error) {
	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // no known_hosts configured
	if d.cfg.KnownHosts != "" {
		var err error
		hostKey, err = knownhosts.New(d.cfg.KnownHosts)
		if err != nil {
			return nil, nil, fmt.Errorf("load known_hosts %s: %w", d.cfg.KnownHosts, err)
		}
	}

	auth, agentConn, err := d.authMethods()
	if err != nil {
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         d.cfg.Timeout,
	}, agentConn, nil
}

func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	var (
		methods   []ssh.AuthMethod
		agentConn net.Conn
	)

	if d.cfg.KeyPath != "" {
		data, err := os.ReadFile(d.cfg.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read key %s: %w", d.cfg.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, nil, fmt.Errorf("parse key %s: %w", d.cfg.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if d.cfg.UseAgent {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, nil, fmt.Errorf("ssh agent: SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("ssh agent %s: %w", sock, err)
		}
		agentConn = conn
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if d.cfg.Password != "" {
		methods = append(methods, ssh.Password(d.cfg.Password))
	}

	if len(methods) == 0 {
		return nil, nil, ErrNoSSHAuth
	}
	if agentConn == nil {
		return methods, nil, nil
	}
	return methods, agentConn, nil
}
