package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "licenselock/internal/errors"
	"licenselock/internal/infrastructure"
	custommw "licenselock/internal/middleware"
	"licenselock/internal/services"
	api "licenselock/pkg/contracts/api/v1"
)

// LicenseHandler serves the public verification endpoint
type LicenseHandler struct {
	service      services.LicenseService
	validator    *custommw.RequestValidator
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, validator *custommw.RequestValidator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
		tracer:       otel.Tracer("license-handler"),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	return r
}

// Verify handles POST /verify. A well-formed request always answers 200, the
// verdict travels in the body.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	start := time.Now()

	ctx, span := h.tracer.Start(ctx, "license_handler.verify",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req api.VerifyRequest
	if err := h.validator.DecodeAndValidate(w, r, &req); err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Verify(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Bool("license.valid", resp.Valid),
		attribute.String("license.reason", resp.Reason),
	)

	h.logger.DebugContext(ctx, "verify request completed",
		slog.String("request_id", reqID),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
		slog.String("reason", resp.Reason),
		slog.Duration("latency", time.Since(start)),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
