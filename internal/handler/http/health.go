package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	ready  atomic.Bool
	checks map[string]ReadinessCheck
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	h := &HealthHandler{checks: make(map[string]ReadinessCheck)}
	h.ready.Store(true)
	return h
}

// AddCheck registers a dependency probed by Ready.
func (h *HealthHandler) AddCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetReady sets the ready state.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health checks if the service is healthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "francoflex_service",
	})
}

// Ready checks if the service and its dependencies can take traffic.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": failed,
		})
		return
	}

	writeStatus(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
	})
}

// Live checks if the service is alive (for Kubernetes liveness probe).
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
	})
}

func writeStatus(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
