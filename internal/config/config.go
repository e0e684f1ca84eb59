package config

import "time"

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	SSH       SSHConfig       `yaml:"ssh"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig identifies the gateway and how to reach it.
type GatewayConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ClientID         int           `yaml:"client_id"`
	Transport        string        `yaml:"transport"` // "tcp", "ssh" or "websocket"
	WSURL            string        `yaml:"ws_url"`    // websocket bridge URL
	ConnectOptions   string        `yaml:"connect_options"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"` // bound on waiting for Connected at startup
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// SSHConfig holds the bastion used when gateway.transport is "ssh".
type SSHConfig struct {
	Addr       string        `yaml:"addr"`
	User       string        `yaml:"user"`
	KeyPath    string        `yaml:"key_path"`
	Password   string        `yaml:"password"`
	UseAgent   bool          `yaml:"use_agent"`
	KnownHosts string        `yaml:"known_hosts"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SessionConfig holds session core settings.
type SessionConfig struct {
	StartRequestID    int64         `yaml:"start_request_id"`
	DispatchWorkers   int           `yaml:"dispatch_workers"` // 0 dispatches on the read loop
	QueueSize         int           `yaml:"queue_size"`
	HandlerTimeout    time.Duration `yaml:"handler_timeout"` // slow-handler warning threshold
	MaxFrameSize      int           `yaml:"max_frame_size"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

// ReconnectConfig holds the supervisor's policy.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = unlimited
}

// HeartbeatConfig holds the liveness probe settings.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables the probe
	Timeout  time.Duration `yaml:"timeout"`
}

// RecorderConfig holds the event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Events        []string      `yaml:"events"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the metrics and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`  // debug, info, warn, error
	Format         string `yaml:"format"` // text or json
	File           string `yaml:"file"`   // optional rotated log file
	MaxSizeMB      int    `yaml:"max_size_mb"`
	MaxBackups     int    `yaml:"max_backups"`
	MaxAgeDays     int    `yaml:"max_age_days"`
	Compress       bool   `yaml:"compress"`
	TraceCallbacks bool   `yaml:"trace_callbacks"`
}
