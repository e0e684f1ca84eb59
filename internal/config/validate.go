package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that required fields are set and values are in range.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return errors.New("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.ClientID < 0 {
		return errors.New("gateway.client_id must be non-negative")
	}
	switch c.Gateway.Transport {
	case "tcp", "websocket":
	case "ssh":
		if err := c.SSH.validate("ssh"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("gateway.transport %q must be one of tcp, ssh, websocket", c.Gateway.Transport)
	}

	if c.Session.StartRequestID < 0 {
		return errors.New("session.start_request_id must be non-negative")
	}
	if c.Session.DispatchWorkers < 0 {
		return errors.New("session.dispatch_workers must be non-negative")
	}
	if c.Session.QueueSize < 1 {
		return errors.New("session.queue_size must be positive")
	}

	if c.Reconnect.Enabled {
		if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
			return errors.New("reconnect.max_delay must not be less than reconnect.base_delay")
		}
		if c.Reconnect.MaxAttempts < 0 {
			return errors.New("reconnect.max_attempts must be non-negative")
		}
	}

	if c.Heartbeat.Interval < 0 {
		return errors.New("heartbeat.interval must be non-negative")
	}

	if c.Recorder.Enabled {
		if len(c.Recorder.Events) == 0 {
			return errors.New("recorder.events is required")
		}
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

func (s *SSHConfig) validate(prefix string) error {
	if s.Addr == "" {
		return fmt.Errorf("%s.addr is required", prefix)
	}
	if s.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if s.KeyPath == "" && s.Password == "" && !s.UseAgent {
		return fmt.Errorf("%s requires key_path, password or use_agent", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns must not exceed max_conns", prefix)
	}
	return nil
}
