package api

import (
	"net/http"
	"time"

	respond "github.com/moctezuma-dev/zappy-back/internal/api/respond"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	reporter HealthReporter
}

func NewHealthHandler(r HealthReporter) *HealthHandler { return &HealthHandler{reporter: r} }

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	var components map[string]bool
	if h.reporter != nil {
		if h.reporter.IsHealthy() {
			status = "healthy"
		}
		components = h.reporter.Status().Components
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

