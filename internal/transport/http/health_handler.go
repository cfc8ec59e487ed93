package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"licenselock/internal/license"
	"licenselock/internal/services"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// ReadinessCheck handles GET /healthz. An unhealthy store answers 503; a
// degraded report still answers 200.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	result := h.service.ReadinessCheck(r.Context())
	if result.OverallStatus == license.HealthStatusUnhealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, result)
}

// LivenessCheck handles GET /livez
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.LivenessCheck(r.Context()))
}

// Version handles GET /version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}
