package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "licenselock/internal/errors"
	"licenselock/internal/license"
	"licenselock/internal/shared/testutil"
	"licenselock/internal/store"
	api "licenselock/pkg/contracts/api/v1"
	"licenselock/pkg/contracts/domain"
)

func newTestService(engine LicenseEngine) LicenseService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLicenseService(engine,
		license.NewSecretAuthorizer("admin-secret"),
		license.NewSecretAuthorizer("reset-secret"),
		logger)
}

func TestLicenseService_Verify(t *testing.T) {
	tests := []struct {
		name    string
		verdict license.Verdict
		want    api.VerifyResponse
	}{
		{
			name:    "activated",
			verdict: license.Verdict{Valid: true, Reason: license.ReasonActivated},
			want:    api.VerifyResponse{Valid: true, Message: "Activated!", Reason: "activated"},
		},
		{
			name:    "welcome back",
			verdict: license.Verdict{Valid: true, Reason: license.ReasonAlreadyBound},
			want:    api.VerifyResponse{Valid: true, Message: "Welcome back!", Reason: "already-bound-same-device"},
		},
		{
			name:    "other device",
			verdict: license.Verdict{Reason: license.ReasonBoundToOtherDevice},
			want:    api.VerifyResponse{Message: "Key already used on another device.", Reason: "bound-to-other-device"},
		},
		{
			name:    "invalid",
			verdict: license.Verdict{Reason: license.ReasonInvalidKey},
			want:    api.VerifyResponse{Message: "Invalid Key", Reason: "invalid-key"},
		},
		{
			name:    "suspended",
			verdict: license.Verdict{Suspended: true, Reason: license.ReasonSuspended},
			want:    api.VerifyResponse{Message: "License suspended.", Reason: "suspended", Suspended: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockLicenseEngine{}
			engine.On("Evaluate", mock.Anything, testutil.KnownKey, testutil.DeviceOne).Return(tt.verdict, nil)

			resp, err := newTestService(engine).Verify(context.Background(), api.VerifyRequest{
				Key:      testutil.KnownKey,
				DeviceID: testutil.DeviceOne,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, *resp)
			engine.AssertExpectations(t)
		})
	}
}

func TestLicenseService_VerifyPropagatesErrors(t *testing.T) {
	engine := &MockLicenseEngine{}
	storeErr := fmt.Errorf("get: %w", apperrors.ErrStoreUnavailable)
	engine.On("Evaluate", mock.Anything, testutil.KnownKey, testutil.DeviceOne).Return(license.Verdict{}, storeErr)

	resp, err := newTestService(engine).Verify(context.Background(), api.VerifyRequest{
		Key:      testutil.KnownKey,
		DeviceID: testutil.DeviceOne,
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestLicenseService_Suspend(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")

	t.Run("found", func(t *testing.T) {
		engine := &MockLicenseEngine{}
		engine.On("Suspend", mock.Anything, testutil.KnownKey).Return(true, nil)

		resp, err := newTestService(engine).Suspend(ctx, testutil.KnownKey)
		require.NoError(t, err)
		assert.True(t, resp.Found)
		assert.Equal(t, "License suspended.", resp.Message)
		assert.Equal(t, "req-1", resp.TraceID)
	})

	t.Run("missing", func(t *testing.T) {
		engine := &MockLicenseEngine{}
		engine.On("Suspend", mock.Anything, testutil.UnknownKey).Return(false, nil)

		resp, err := newTestService(engine).Suspend(ctx, testutil.UnknownKey)
		require.NoError(t, err)
		assert.False(t, resp.Found)
		assert.Equal(t, "License not found.", resp.Message)
	})

	t.Run("bad request", func(t *testing.T) {
		engine := &MockLicenseEngine{}
		engine.On("Suspend", mock.Anything, "").Return(false, apperrors.ErrBadRequest)

		_, err := newTestService(engine).Suspend(ctx, "")
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestLicenseService_Reset(t *testing.T) {
	tests := []struct {
		name        string
		found       bool
		clear       bool
		wantMessage string
	}{
		{name: "keep suspension", found: true, wantMessage: "License reset."},
		{name: "clear suspension", found: true, clear: true, wantMessage: "License reset and reinstated."},
		{name: "missing", wantMessage: "License not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockLicenseEngine{}
			engine.On("Reset", mock.Anything, testutil.KnownKey, tt.clear).Return(tt.found, nil)

			resp, err := newTestService(engine).Reset(context.Background(), testutil.KnownKey, tt.clear)
			require.NoError(t, err)
			assert.Equal(t, tt.found, resp.Found)
			assert.Equal(t, tt.wantMessage, resp.Message)
			engine.AssertExpectations(t)
		})
	}
}

func TestLicenseService_List(t *testing.T) {
	engine := &MockLicenseEngine{}
	engine.On("ListAll", mock.Anything).Return([]license.Summary{
		{Identifier: "LIC-AAAA-AAAA-AAAA", State: license.StateLocked, BoundDeviceID: "dev-1"},
		{Identifier: "LIC-BBBB-BBBB-BBBB", State: license.StateUnredeemed, Suspended: true},
	}, nil)

	resp, err := newTestService(engine).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, domain.LicenseSummary{
		Key:             "LIC-AAAA-AAAA-AAAA",
		ActivationState: domain.StateLocked,
		BoundDeviceID:   "dev-1",
	}, resp.Licenses[0])
	assert.True(t, resp.Licenses[1].Suspended)
	assert.False(t, resp.Licenses[1].Used())
}

func TestLicenseService_ListEmptyIsNotNil(t *testing.T) {
	engine := &MockLicenseEngine{}
	engine.On("ListAll", mock.Anything).Return(nil, nil)

	resp, err := newTestService(engine).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, resp.Licenses)
	assert.Zero(t, resp.Total)
}

func TestLicenseService_ListStopsOnError(t *testing.T) {
	engine := &MockLicenseEngine{}
	engine.On("ListAll", mock.Anything).Return([]license.Summary{
		{Identifier: "LIC-AAAA-AAAA-AAAA", State: license.StateUnredeemed},
	}, apperrors.ErrStoreUnavailable)

	resp, err := newTestService(engine).List(context.Background())
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestLicenseService_Provision(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		engine := &MockLicenseEngine{}
		keys := []string{"LIC-AAAA-AAAA-AAAA", "LIC-BBBB-BBBB-BBBB"}
		engine.On("Provision", mock.Anything, 2).Return(keys, nil)

		resp, err := newTestService(engine).Provision(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, keys, resp.Keys)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("partial failure", func(t *testing.T) {
		engine := &MockLicenseEngine{}
		engine.On("Provision", mock.Anything, 3).Return([]string{"LIC-AAAA-AAAA-AAAA"}, apperrors.ErrStoreUnavailable)

		_, err := newTestService(engine).Provision(context.Background(), 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "provisioned 1 of 3 keys")
	})
}

func TestLicenseService_Authorization(t *testing.T) {
	svc := newTestService(&MockLicenseEngine{})

	assert.NoError(t, svc.AuthorizeAdmin("admin-secret"))
	assert.ErrorIs(t, svc.AuthorizeAdmin("reset-secret"), apperrors.ErrUnauthorized)
	assert.NoError(t, svc.AuthorizeReset("reset-secret"))
	assert.ErrorIs(t, svc.AuthorizeReset("admin-secret"), apperrors.ErrUnauthorized)
	assert.ErrorIs(t, svc.AuthorizeAdmin(""), apperrors.ErrUnauthorized)

	locked := NewLicenseService(&MockLicenseEngine{}, license.SecretAuthorizer{}, license.SecretAuthorizer{}, nil)
	assert.ErrorIs(t, locked.AuthorizeAdmin(""), apperrors.ErrUnauthorized)
}

func TestLicenseService_AgainstEngine(t *testing.T) {
	authority := testutil.NewStubAuthority(testutil.KnownKey)
	engine := license.NewEngine(store.NewMemoryStore(), authority,
		license.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }))
	svc := newTestService(engine)
	ctx := context.Background()

	first, err := svc.Verify(ctx, api.VerifyRequest{Key: testutil.KnownKey, DeviceID: testutil.DeviceOne})
	require.NoError(t, err)
	assert.Equal(t, "Activated!", first.Message)

	other, err := svc.Verify(ctx, api.VerifyRequest{Key: testutil.KnownKey, DeviceID: testutil.DeviceTwo})
	require.NoError(t, err)
	assert.False(t, other.Valid)

	_, err = svc.Suspend(ctx, testutil.KnownKey)
	require.NoError(t, err)

	again, err := svc.Verify(ctx, api.VerifyRequest{Key: testutil.KnownKey, DeviceID: testutil.DeviceOne})
	require.NoError(t, err)
	assert.True(t, again.Suspended)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list.Licenses, 1)
	assert.Equal(t, testutil.KnownKey, list.Licenses[0].Key)

	_, err = svc.Verify(ctx, api.VerifyRequest{Key: " ", DeviceID: testutil.DeviceOne})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))
}
