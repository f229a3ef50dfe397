// Package gateway - stats.go exposes health and operational metrics.
//
// GET /health is public and pings the database.
// GET /metrics (Prometheus) and GET /stats (JSON) answer loopback only.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const healthPingTimeout = 2 * time.Second

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"time":   g.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if g.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := g.db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	g.writeJSON(w, status, health)
}

// handleMetrics serves the Prometheus registry.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		g.writeError(w, r, "Forbidden", http.StatusForbidden)
		return
	}
	g.metrics.Handler().ServeHTTP(w, r)
}

// handleStats returns aggregated counters as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		g.writeError(w, r, "Forbidden", http.StatusForbidden)
		return
	}
	g.writeJSON(w, http.StatusOK, g.metrics.FullStats())
}
