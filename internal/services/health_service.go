package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"licenselock/internal/license"
	"licenselock/pkg/contracts"
)

// HealthChecker produces the aggregated component report.
type HealthChecker interface {
	PerformHealthCheck(ctx context.Context) *license.HealthCheckResult
}

// HealthService provides health check functionality
type HealthService struct {
	checker   HealthChecker
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the liveness and version response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
}

// NewHealthService creates a new health service
func NewHealthService(checker HealthChecker, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		checker:   checker,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// ReadinessCheck reports whether the record store and authority are usable
func (hs *HealthService) ReadinessCheck(ctx context.Context) *license.HealthCheckResult {
	result := hs.checker.PerformHealthCheck(ctx)
	if result.OverallStatus != license.HealthStatusHealthy {
		hs.logger.WarnContext(ctx, "readiness check not healthy",
			slog.String("status", string(result.OverallStatus)),
			slog.String("trace_id", traceIDFromContext(ctx)),
		)
	}
	return result
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(_ context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}
