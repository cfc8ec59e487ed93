package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	apperrors "licenselock/internal/errors"
	"licenselock/internal/infrastructure"
	"licenselock/internal/shared/testutil"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = chimw.GetReqID(r.Context())
			assert.Equal(t, seen, infrastructure.GetTraceID(r.Context()))
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	})

	t.Run("keeps client id", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetReqID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "client-id")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "client-id", seen)
		assert.Equal(t, "client-id", rec.Header().Get(HeaderRequestID))
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetReqID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Len(t, seen, 36)
	})
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"*"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/verify", nil)
	req.Header.Set("Origin", "https://client.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderAdminSecret)
}

func TestCORS_SpecificOrigins(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://allowed.example"}})(http.HandlerFunc(okHandler))

	tests := []struct {
		origin string
		want   string
	}{
		{origin: "https://allowed.example", want: "https://allowed.example"},
		{origin: "https://other.example", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/verify", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestAdminAuth(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	errorHandler := apperrors.NewErrorHandler(logger)

	authorize := func(presented string) error {
		if presented != "s3cret" {
			return fmt.Errorf("admin: %w", apperrors.ErrUnauthorized)
		}
		return nil
	}
	handler := AdminAuth(authorize, errorHandler, logger)(http.HandlerFunc(okHandler))

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{name: "admin header", header: HeaderAdminSecret, value: "s3cret", wantStatus: http.StatusOK},
		{name: "bearer token", header: "Authorization", value: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "wrong secret", header: HeaderAdminSecret, value: "nope", wantStatus: http.StatusUnauthorized},
		{name: "missing secret", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", header: "Authorization", value: "Basic s3cret", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/suspend", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				body := decodeBody(t, rec)
				assert.Equal(t, "UNAUTHORIZED", body["error_code"])
			}
		})
	}

	testutil.AssertLogContains(t, logs, slog.LevelWarn, "administrative request rejected")
	testutil.AssertNoLogValue(t, logs, "nope")
}

func TestAuditLog(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := AuditLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/keys", nil))

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "audit log")
	testutil.AssertLogAttr(t, logs, "status", int64(http.StatusCreated))
}

type verifyBody struct {
	Key      string `json:"key" validate:"required,max=16,printable"`
	DeviceID string `json:"deviceId" validate:"required"`
}

func TestRequestValidator_DecodeAndValidate(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	errorHandler := apperrors.NewErrorHandler(logger)
	v := NewRequestValidator()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body verifyBody
		if err := v.DecodeAndValidate(w, r, &body); err != nil {
			errorHandler.HandleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "valid", body: `{"key":"ABC","deviceId":"dev-1"}`, wantStatus: http.StatusOK},
		{name: "malformed json", body: `{"key":`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "missing device", body: `{"key":"ABC"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "too long", body: `{"key":"ABCDEFGHIJKLMNOPQRSTUVWXYZ","deviceId":"d"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "control characters", body: `{"key":"AB\u0007C","deviceId":"d"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				body := decodeBody(t, rec)
				assert.Equal(t, tt.wantCode, body["error_code"])
				assert.Equal(t, "Invalid Request", body["error"])
			}
		})
	}
}

func TestRequestValidator_FieldNames(t *testing.T) {
	err := NewRequestValidator().ValidateStruct(&verifyBody{Key: "ABC"})
	require.Error(t, err)

	apiErr, ok := err.(*apperrors.APIError)
	require.True(t, ok)
	fields, ok := apiErr.Details.([]apperrors.ValidationError)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "deviceId", fields[0].Field)
	assert.Equal(t, "deviceId is required", fields[0].Message)
}

func TestContentTypeValidator(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := ContentTypeValidator(apperrors.NewErrorHandler(logger), "application/json")(http.HandlerFunc(okHandler))

	tests := []struct {
		name        string
		contentType string
		wantStatus  int
	}{
		{name: "json", contentType: "application/json; charset=utf-8", wantStatus: http.StatusOK},
		{name: "undeclared", wantStatus: http.StatusOK},
		{name: "form", contentType: "application/x-www-form-urlencoded", wantStatus: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRecoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := RequestID(Recoverer(apperrors.NewErrorHandler(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/licenses", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, rec.Header().Get(HeaderRequestID), body["trace_id"])
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}

func TestTimeout(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	errorHandler := apperrors.NewErrorHandler(logger)

	handler := Timeout(10*time.Millisecond, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		errorHandler.HandleError(w, r, r.Context().Err())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "request deadline exceeded")
}

func TestTimeout_FastRequest(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	handler := Timeout(time.Second, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline := r.Context().Deadline()
		assert.True(t, hasDeadline)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, logs.ContainsMessage("request deadline exceeded"))
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	handler := StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request completed")

	logs.Clear()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	testutil.AssertLogContains(t, logs, slog.LevelError, "request completed")
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestOTelMiddleware(t *testing.T) {
	providers := &infrastructure.OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer("test"),
		Meter:  metricnoop.NewMeterProvider().Meter("test"),
	}
	m, err := NewOTelMiddleware(providers)
	require.NoError(t, err)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGetRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", GetRealIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.7")
	assert.Equal(t, "192.0.2.7", GetRealIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", GetRealIP(req))
}

func TestGetReqID_FallsBackToTraceID(t *testing.T) {
	ctx := infrastructure.WithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", GetReqID(ctx))
}
