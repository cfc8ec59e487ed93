package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"licenselock/internal/license"
	"licenselock/internal/shared/testutil"
	"licenselock/pkg/contracts"
)

func TestHealthService_ReadinessCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  license.HealthStatus
		wantLog bool
	}{
		{name: "healthy", status: license.HealthStatusHealthy},
		{name: "unhealthy", status: license.HealthStatusUnhealthy, wantLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, handler := testutil.NewTestLogger(t)
			checker := &MockHealthChecker{}
			checker.On("PerformHealthCheck", mock.Anything).Return(&license.HealthCheckResult{
				OverallStatus: tt.status,
				Timestamp:     time.Now(),
			})

			result := NewHealthService(checker, logger).ReadinessCheck(context.Background())
			assert.Equal(t, tt.status, result.OverallStatus)
			assert.Equal(t, tt.wantLog, handler.ContainsMessage("readiness check not healthy"))
			checker.AssertExpectations(t)
		})
	}
}

func TestHealthService_LivenessAndVersion(t *testing.T) {
	hs := NewHealthService(&MockHealthChecker{}, nil)

	live := hs.LivenessCheck(context.Background())
	assert.Equal(t, "alive", live.Status)
	assert.Equal(t, contracts.Version, live.Version)
	assert.Contains(t, live.Runtime, "goroutines")

	assert.Equal(t, contracts.Version, hs.Version().Version)
}
