package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/gwsession/internal/connection"
	"github.com/rickgao/gwsession/internal/session"
)

// statusReporter is the part of a session the health endpoint reads.
type statusReporter interface {
	Status() session.Status
}

// newHTTPHandler serves metrics at metricsPath and health at /health.
// pool may be nil when the recorder is disabled.
func newHTTPHandler(metricsPath string, gatherer prometheus.Gatherer, sess statusReporter, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		st := sess.Status()
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		gw := map[string]any{
			"state":            st.State.String(),
			"server_version":   st.ServerVersion,
			"accounts":         st.ManagedAccounts,
			"pending_requests": st.PendingRequests,
		}
		if !st.ConnectedSince.IsZero() {
			gw["connected_since"] = st.ConnectedSince.UTC().Format(time.RFC3339)
		}
		health.Components["gateway"] = gw
		if st.State != connection.Connected {
			health.Status = "unhealthy"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
