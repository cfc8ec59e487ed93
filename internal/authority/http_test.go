package authority

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licenselock/internal/config"
	"licenselock/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthorityConfig(url string) config.AuthorityConfig {
	cfg := config.Default().Authority
	cfg.Kind = config.AuthorityHTTP
	cfg.URL = url
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestHTTPAuthority_Verify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		genuine bool
		wantErr bool
	}{
		{"active key", http.StatusOK, `{"success":true,"data":{"status":"Activated"}}`, true, false},
		{"available key", http.StatusOK, `{"success":true,"data":{"status":"Available"}}`, true, false},
		{"no status", http.StatusOK, `{"success":true,"data":{}}`, true, false},
		{"revoked key", http.StatusOK, `{"success":true,"data":{"status":"Revoked"}}`, false, false},
		{"refunded key", http.StatusOK, `{"success":true,"data":{"status":"refunded"}}`, false, false},
		{"unknown key", http.StatusOK, `{"success":false,"error":"License not found"}`, false, false},
		{"not found status", http.StatusNotFound, ``, false, false},
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, false, true},
		{"malformed json", http.StatusOK, `<html>`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.NotEmpty(t, r.Header.Get(config.HeaderRequestID))

				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, "validate", payload["action"])
				assert.Equal(t, "LIC-AAAA-BBBB-CCCC", payload["code"])

				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a, err := NewHTTPAuthority(testAuthorityConfig(srv.URL), testLogger())
			require.NoError(t, err)

			genuine, err := a.Verify(context.Background(), "LIC-AAAA-BBBB-CCCC")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.genuine, genuine)
		})
	}
}

func TestHTTPAuthority_SingleAttempt(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "service unavailable", status: http.StatusServiceUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "unparseable body", status: http.StatusOK, body: "<html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a, err := NewHTTPAuthority(testAuthorityConfig(srv.URL), testLogger())
			require.NoError(t, err)

			genuine, err := a.Verify(context.Background(), "LIC-AAAA-BBBB-CCCC")
			assert.Error(t, err)
			assert.False(t, genuine)
			assert.Equal(t, int32(1), calls.Load(), "failures are not retried")
		})
	}
}

func TestHTTPAuthority_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := NewHTTPAuthority(testAuthorityConfig(url), testLogger())
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), "LIC-AAAA-BBBB-CCCC")
	assert.Error(t, err)
}

func TestHTTPAuthority_SignsRequests(t *testing.T) {
	const secret = "authority-shared-secret"
	verifier := security.NewRequestSigner(secret, time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var signed security.SignedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&signed))
		if err := verifier.Verify(&signed, time.Now()); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, r.Header.Get(config.HeaderRequestID), signed.RequestID)
		assert.Equal(t, "LIC-AAAA-BBBB-CCCC", signed.Payload["code"])
		_, _ = io.WriteString(w, `{"success":true,"data":{"status":"Active"}}`)
	}))
	defer srv.Close()

	cfg := testAuthorityConfig(srv.URL)
	cfg.SharedSecret = secret
	a, err := NewHTTPAuthority(cfg, testLogger())
	require.NoError(t, err)

	genuine, err := a.Verify(context.Background(), "LIC-AAAA-BBBB-CCCC")
	require.NoError(t, err)
	assert.True(t, genuine)
}

func TestHTTPAuthority_GzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, `{"success":true,"data":{"status":"Active"}}`)
		_ = gz.Close()
	}))
	defer srv.Close()

	a, err := NewHTTPAuthority(testAuthorityConfig(srv.URL), testLogger())
	require.NoError(t, err)

	genuine, err := a.Verify(context.Background(), "LIC-AAAA-BBBB-CCCC")
	require.NoError(t, err)
	assert.True(t, genuine)
}

func TestNewHTTPAuthority_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "://broken", "https://"} {
		_, err := NewHTTPAuthority(testAuthorityConfig(u), testLogger())
		assert.Error(t, err, u)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	none, err := New(ctx, config.AuthorityConfig{Kind: config.AuthorityNone}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, none)

	httpAuth, err := New(ctx, testAuthorityConfig("https://script.google.com/macros/s/abc/exec"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &HTTPAuthority{}, httpAuth)

	_, err = New(ctx, config.AuthorityConfig{Kind: "carrier-pigeon"}, testLogger())
	assert.Error(t, err)

	_, err = New(ctx, config.AuthorityConfig{Kind: config.AuthoritySheets, SheetID: "x", CredentialsFile: "/nonexistent.json"}, testLogger())
	assert.Error(t, err)
}
