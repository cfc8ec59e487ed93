package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"licenselock/internal/infrastructure"
	"licenselock/internal/license"
	api "licenselock/pkg/contracts/api/v1"
	"licenselock/pkg/contracts/domain"
)

// LicenseEngine is the subset of *license.Engine the service drives.
type LicenseEngine interface {
	Evaluate(ctx context.Context, identifier, deviceID string) (license.Verdict, error)
	Suspend(ctx context.Context, identifier string) (bool, error)
	Reset(ctx context.Context, identifier string, clearSuspension bool) (bool, error)
	ListAll(ctx context.Context) iter.Seq2[license.Summary, error]
	Provision(ctx context.Context, count int) ([]string, error)
}

// LicenseService provides the license server's use cases to the transport layer
type LicenseService interface {
	// Client operation
	Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error)

	// Administrative operations. Callers authorize first.
	Suspend(ctx context.Context, key string) (*api.AdminActionResponse, error)
	Reset(ctx context.Context, key string, clearSuspension bool) (*api.AdminActionResponse, error)
	List(ctx context.Context) (*api.LicenseListResponse, error)
	Provision(ctx context.Context, count int) (*api.ProvisionResponse, error)

	AuthorizeAdmin(presented string) error
	AuthorizeReset(presented string) error
}

// licenseService implements LicenseService over the activation engine
type licenseService struct {
	engine    LicenseEngine
	adminAuth license.SecretAuthorizer
	resetAuth license.SecretAuthorizer
	logger    *slog.Logger
}

// NewLicenseService creates a new license service. adminAuth guards
// suspension, listing and provisioning; resetAuth guards resets.
func NewLicenseService(engine LicenseEngine, adminAuth, resetAuth license.SecretAuthorizer, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		engine:    engine,
		adminAuth: adminAuth,
		resetAuth: resetAuth,
		logger:    logger.With(slog.String("service", "license")),
	}
}

// Verify evaluates a key for a device and shapes the verdict for clients
func (s *licenseService) Verify(ctx context.Context, req api.VerifyRequest) (*api.VerifyResponse, error) {
	start := time.Now()
	traceID := traceIDFromContext(ctx)

	verdict, err := s.engine.Evaluate(ctx, req.Key, req.DeviceID)
	if err != nil {
		s.logger.ErrorContext(ctx, "license verification failed",
			slog.String("trace_id", traceID),
			slog.String("operation", "verify"),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.DebugContext(ctx, "license verification completed",
		slog.String("trace_id", traceID),
		slog.String("operation", "verify"),
		slog.String("reason", string(verdict.Reason)),
		slog.Duration("latency", time.Since(start)),
	)

	return &api.VerifyResponse{
		Valid:     verdict.Valid,
		Message:   verdict.Message(),
		Reason:    string(verdict.Reason),
		Suspended: verdict.Suspended,
	}, nil
}

// Suspend flags a license so that every later verification is refused
func (s *licenseService) Suspend(ctx context.Context, key string) (*api.AdminActionResponse, error) {
	traceID := traceIDFromContext(ctx)

	found, err := s.engine.Suspend(ctx, key)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "admin suspend completed",
		slog.String("trace_id", traceID),
		slog.String("operation", "suspend"),
		slog.Bool("found", found),
	)

	resp := &api.AdminActionResponse{Key: key, Found: found, TraceID: traceID}
	if found {
		resp.Message = "License suspended."
	} else {
		resp.Message = "License not found."
	}
	return resp, nil
}

// Reset releases a license's device binding
func (s *licenseService) Reset(ctx context.Context, key string, clearSuspension bool) (*api.AdminActionResponse, error) {
	traceID := traceIDFromContext(ctx)

	found, err := s.engine.Reset(ctx, key, clearSuspension)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "admin reset completed",
		slog.String("trace_id", traceID),
		slog.String("operation", "reset"),
		slog.Bool("found", found),
		slog.Bool("clear_suspension", clearSuspension),
	)

	resp := &api.AdminActionResponse{Key: key, Found: found, TraceID: traceID}
	switch {
	case !found:
		resp.Message = "License not found."
	case clearSuspension:
		resp.Message = "License reset and reinstated."
	default:
		resp.Message = "License reset."
	}
	return resp, nil
}

// List collects every license summary in identifier order
func (s *licenseService) List(ctx context.Context) (*api.LicenseListResponse, error) {
	traceID := traceIDFromContext(ctx)

	resp := &api.LicenseListResponse{Licenses: []domain.LicenseSummary{}, TraceID: traceID}
	for summary, err := range s.engine.ListAll(ctx) {
		if err != nil {
			return nil, err
		}
		resp.Licenses = append(resp.Licenses, ToDomainSummary(summary))
	}
	resp.Total = len(resp.Licenses)

	s.logger.InfoContext(ctx, "admin list completed",
		slog.String("trace_id", traceID),
		slog.String("operation", "list"),
		slog.Int("total", resp.Total),
	)
	return resp, nil
}

// Provision creates count new unredeemed licenses
func (s *licenseService) Provision(ctx context.Context, count int) (*api.ProvisionResponse, error) {
	traceID := traceIDFromContext(ctx)

	keys, err := s.engine.Provision(ctx, count)
	if err != nil {
		s.logger.ErrorContext(ctx, "provisioning stopped early",
			slog.String("trace_id", traceID),
			slog.String("operation", "provision"),
			slog.Int("requested", count),
			slog.Int("created", len(keys)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("provisioned %d of %d keys: %w", len(keys), count, err)
	}

	return &api.ProvisionResponse{Keys: keys, Count: len(keys), TraceID: traceID}, nil
}

func (s *licenseService) AuthorizeAdmin(presented string) error {
	return s.adminAuth.Authorize(presented)
}

func (s *licenseService) AuthorizeReset(presented string) error {
	return s.resetAuth.Authorize(presented)
}

// ToDomainSummary converts an engine summary to its wire form.
func ToDomainSummary(s license.Summary) domain.LicenseSummary {
	return domain.LicenseSummary{
		Key:             s.Identifier,
		ActivationState: domain.ActivationState(s.State),
		BoundDeviceID:   s.BoundDeviceID,
		Suspended:       s.Suspended,
	}
}

// traceIDFromContext prefers the request id so responses and logs agree.
func traceIDFromContext(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	if id := infrastructure.GetTraceID(ctx); id != "" {
		return id
	}
	return infrastructure.TraceIDFromContext(ctx)
}
