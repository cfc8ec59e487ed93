package services

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"

	"licenselock/internal/license"
)

// MockLicenseEngine is a mock for the LicenseEngine interface
type MockLicenseEngine struct {
	mock.Mock
}

func (m *MockLicenseEngine) Evaluate(ctx context.Context, identifier, deviceID string) (license.Verdict, error) {
	args := m.Called(ctx, identifier, deviceID)
	return args.Get(0).(license.Verdict), args.Error(1)
}

func (m *MockLicenseEngine) Suspend(ctx context.Context, identifier string) (bool, error) {
	args := m.Called(ctx, identifier)
	return args.Bool(0), args.Error(1)
}

func (m *MockLicenseEngine) Reset(ctx context.Context, identifier string, clearSuspension bool) (bool, error) {
	args := m.Called(ctx, identifier, clearSuspension)
	return args.Bool(0), args.Error(1)
}

// ListAll replays the summaries and error registered with On("ListAll").
func (m *MockLicenseEngine) ListAll(ctx context.Context) iter.Seq2[license.Summary, error] {
	args := m.Called(ctx)
	summaries, _ := args.Get(0).([]license.Summary)
	failure := args.Error(1)
	return func(yield func(license.Summary, error) bool) {
		for _, s := range summaries {
			if !yield(s, nil) {
				return
			}
		}
		if failure != nil {
			yield(license.Summary{}, failure)
		}
	}
}

func (m *MockLicenseEngine) Provision(ctx context.Context, count int) ([]string, error) {
	args := m.Called(ctx, count)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

// MockHealthChecker is a mock for the HealthChecker interface
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) PerformHealthCheck(ctx context.Context) *license.HealthCheckResult {
	args := m.Called(ctx)
	return args.Get(0).(*license.HealthCheckResult)
}
