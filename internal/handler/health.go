package handler

import (
	"net/http"
)

// ReadyFunc reports why the service cannot serve yet, or nil.
type ReadyFunc func() error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	ready ReadyFunc
}

// NewHealthHandler creates a new health handler. A nil ready is always ready.
func NewHealthHandler(ready ReadyFunc) *HealthHandler {
	return &HealthHandler{
		ready: ready,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
