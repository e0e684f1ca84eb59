package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/gwsession/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + sslMode(cfg.SSLMode),
	}
	return u.String()
}

func sslMode(mode string) string {
	if mode == "" {
		return config.DefaultDBSSLMode
	}
	return mode
}
