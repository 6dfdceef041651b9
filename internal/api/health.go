package api

import (
	"net/http"
	"time"

	"github.com/pmrelay/pmrelay/internal/api/respond"
)

// HealthHandler reports the aggregate health of the relay's dependencies.
type HealthHandler struct {
	isHealthy func() bool
}

// NewHealthHandler creates a health handler backed by isHealthy.
func NewHealthHandler(isHealthy func() bool) *HealthHandler {
	return &HealthHandler{isHealthy: isHealthy}
}

// CheckHealth handles GET /api/health.
// Always returns 200; the body reports healthy or unhealthy.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	if h.isHealthy != nil && h.isHealthy() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
