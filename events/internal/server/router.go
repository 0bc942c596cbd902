// Package server exposes the processor's operational HTTP endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billhawk/billhawk/common/httputil"
	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/common/middleware"
)

// Check is a named readiness dependency.
type Check struct {
	Name    string
	Checker messaging.HealthChecker
}

// Handler serves liveness and readiness.
type Handler struct {
	stats   func() any
	checks  []Check
	timeout time.Duration
}

// NewHandler creates a Handler. stats may be nil.
func NewHandler(stats func() any, checks ...Check) *Handler {
	return &Handler{stats: stats, checks: checks, timeout: 2 * time.Second}
}

// Health reports that the process is alive.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if h.stats != nil {
		body["stats"] = h.stats()
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// Ready reports whether every dependency answered within the timeout.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	results := make([]messaging.HealthStatus, 0, len(h.checks))
	ready := true
	for _, c := range h.checks {
		st := messaging.CheckHealth(r.Context(), c.Name, c.Checker, h.timeout)
		st.Latency = st.Latency.Round(time.Millisecond)
		if !st.Healthy {
			ready = false
		}
		results = append(results, st)
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{
		"status": status,
		"checks": results,
	})
}

// NewRouter registers the operational routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
