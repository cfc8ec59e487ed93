package license

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"licenselock/internal/infrastructure"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckResult is the aggregated health report.
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"status"`
	Timestamp     time.Time                   `json:"timestamp"`
	Duration      string                      `json:"duration"`
	TraceID       string                      `json:"trace_id,omitempty"`
	Components    map[string]*ComponentHealth `json:"components"`
}

// HealthCheck reports on the engine's collaborators.
type HealthCheck struct {
	engine        *Engine
	authorityKind string
	timeout       time.Duration
}

// NewHealthCheck creates a health check. authorityKind is reported as-is.
func NewHealthCheck(engine *Engine, authorityKind string, timeout time.Duration) *HealthCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthCheck{engine: engine, authorityKind: authorityKind, timeout: timeout}
}

// PerformHealthCheck runs every component check concurrently.
func (hc *HealthCheck) PerformHealthCheck(ctx context.Context) *HealthCheckResult {
	ctx, span := hc.engine.tracer.Start(ctx, "license.health_check")
	defer span.End()

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp:  start.UTC(),
		TraceID:    infrastructure.GetTraceID(ctx),
		Components: make(map[string]*ComponentHealth),
	}

	checks := map[string]func(context.Context) *ComponentHealth{
		"record_store": hc.checkStore,
		"authority":    hc.checkAuthority,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, hc.timeout)
			defer cancel()
			health := check(checkCtx)

			mu.Lock()
			result.Components[name] = health
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.OverallStatus = overallStatus(result.Components)
	result.Duration = time.Since(start).String()

	span.SetAttributes(attribute.String("health.overall_status", string(result.OverallStatus)))
	return result
}

func (hc *HealthCheck) checkStore(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := &ComponentHealth{Timestamp: start.UTC()}

	err := hc.engine.Ping(ctx)
	health.Duration = time.Since(start).String()
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "Record store unreachable"
		health.Error = err.Error()
		return health
	}

	health.Status = HealthStatusHealthy
	health.Message = "Record store reachable"
	return health
}

func (hc *HealthCheck) checkAuthority(_ context.Context) *ComponentHealth {
	health := &ComponentHealth{
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"kind": hc.authorityKind},
	}

	if hc.engine.authority == nil {
		health.Status = HealthStatusHealthy
		health.Message = "No external authority configured; only local records are accepted"
		return health
	}

	health.Status = HealthStatusHealthy
	health.Message = "External authority configured"
	return health
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HTTPHandler serves the health report, answering 503 when unhealthy.
func (hc *HealthCheck) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := hc.PerformHealthCheck(r.Context())

		status := http.StatusOK
		if result.OverallStatus == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}
}
