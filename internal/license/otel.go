package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "licenselock/license"
	MeterName  = "licenselock/license"
)

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	Evaluations        metric.Int64Counter
	EvaluationDuration metric.Float64Histogram
	AuthorityCalls     metric.Int64Counter
	Suspensions        metric.Int64Counter
	Resets             metric.Int64Counter
	Provisioned        metric.Int64Counter
	StoreErrors        metric.Int64Counter
}

// NewMetrics creates the engine instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Evaluations, err = meter.Int64Counter(
		"license_evaluations_total",
		metric.WithDescription("License evaluations by verdict reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}

	m.EvaluationDuration, err = meter.Float64Histogram(
		"license_evaluation_duration_seconds",
		metric.WithDescription("License evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation duration histogram: %w", err)
	}

	m.AuthorityCalls, err = meter.Int64Counter(
		"license_authority_calls_total",
		metric.WithDescription("Outbound authority verifications by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority calls counter: %w", err)
	}

	m.Suspensions, err = meter.Int64Counter(
		"license_suspensions_total",
		metric.WithDescription("Suspension requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create suspensions counter: %w", err)
	}

	m.Resets, err = meter.Int64Counter(
		"license_resets_total",
		metric.WithDescription("Administrative resets by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resets counter: %w", err)
	}

	m.Provisioned, err = meter.Int64Counter(
		"license_provisioned_total",
		metric.WithDescription("Locally provisioned license records"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioned counter: %w", err)
	}

	m.StoreErrors, err = meter.Int64Counter(
		"license_store_errors_total",
		metric.WithDescription("Record store failures by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordEvaluation(ctx context.Context, v Verdict, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := string(v.Reason)
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("reason", outcome))
	m.Evaluations.Add(ctx, 1, attrs)
	m.EvaluationDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordAuthorityCall(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.AuthorityCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordSuspension(ctx context.Context, found bool) {
	if m == nil {
		return
	}
	m.Suspensions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("found", found)))
}

func (m *Metrics) recordReset(ctx context.Context, found bool) {
	if m == nil {
		return
	}
	m.Resets.Add(ctx, 1, metric.WithAttributes(attribute.Bool("found", found)))
}

func (m *Metrics) recordProvisioned(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Provisioned.Add(ctx, int64(n))
}

func (m *Metrics) recordStoreError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
