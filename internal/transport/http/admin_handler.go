package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "licenselock/internal/errors"
	custommw "licenselock/internal/middleware"
	"licenselock/internal/services"
	api "licenselock/pkg/contracts/api/v1"
)

// AdminHandler serves the operator endpoints under /admin. Every route
// requires a secret: suspend, list and provision use the admin secret, reset
// uses the reset secret.
type AdminHandler struct {
	service      services.LicenseService
	validator    *custommw.RequestValidator
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service services.LicenseService, validator *custommw.RequestValidator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for the admin endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(custommw.AuditLog(h.logger))

	r.Group(func(r chi.Router) {
		r.Use(custommw.AdminAuth(h.service.AuthorizeAdmin, h.errorHandler, h.logger))
		r.Post("/suspend", h.Suspend)
		r.Get("/licenses", h.ListLicenses)
		r.Post("/keys", h.ProvisionKeys)
	})

	r.Group(func(r chi.Router) {
		r.Use(custommw.AdminAuth(h.service.AuthorizeReset, h.errorHandler, h.logger))
		r.Post("/reset", h.Reset)
	})

	return r
}

// Suspend handles POST /admin/suspend
func (h *AdminHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	var req api.SuspendRequest
	if err := h.validator.DecodeAndValidate(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Suspend(r.Context(), req.Key)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.renderAction(w, r, resp)
}

// Reset handles POST /admin/reset
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req api.ResetRequest
	if err := h.validator.DecodeAndValidate(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Reset(r.Context(), req.Key, req.ClearSuspension)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.renderAction(w, r, resp)
}

// ListLicenses handles GET /admin/licenses
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// ProvisionKeys handles POST /admin/keys
func (h *AdminHandler) ProvisionKeys(w http.ResponseWriter, r *http.Request) {
	var req api.ProvisionRequest
	if err := h.validator.DecodeAndValidate(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Provision(r.Context(), req.Count)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// renderAction answers 404 when the key has no record
func (h *AdminHandler) renderAction(w http.ResponseWriter, r *http.Request, resp *api.AdminActionResponse) {
	if !resp.Found {
		render.Status(r, http.StatusNotFound)
	}
	render.JSON(w, r, resp)
}
