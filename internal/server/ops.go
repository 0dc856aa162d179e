package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// Pinger checks a backing store. [*sql.DB] implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsHandler serves health and metrics endpoints.
type OpsHandler struct {
	db      Pinger
	metrics *Metrics
	logger  *log.Logger
}

func (h *OpsHandler) Routes() []Route {
	routes := []Route{{http.MethodGet, "/health", h.Health}}
	if h.metrics != nil {
		routes = append(routes, Route{http.MethodGet, "/metrics", h.metrics.Handler().ServeHTTP})
	}
	return routes
}

// Health reports whether the database answers within a second.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
