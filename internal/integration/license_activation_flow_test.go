package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"licenselock/internal/app"
	"licenselock/internal/authority"
	"licenselock/internal/config"
	"licenselock/internal/infrastructure"
	"licenselock/internal/store"
)

const (
	issuedKey  = "LIC-7Q2M-KX9P-4WRT"
	revokedKey = "LIC-REVK-0000-0001"
	adminToken = "integration-admin"
	laptop     = "laptop-01"
	desktop    = "desktop-02"
)

// issuer plays the external authority: it answers validate actions for the
// keys it knows and counts how often it was asked.
type issuer struct {
	mu       sync.Mutex
	statuses map[string]string
	down     bool
	calls    atomic.Int64
}

func (i *issuer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	i.calls.Add(1)

	i.mu.Lock()
	down := i.down
	i.mu.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var payload struct {
		Action string `json:"action"`
		Code   string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Action != "validate" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	i.mu.Lock()
	status, ok := i.statuses[payload.Code]
	i.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_, _ = io.WriteString(w, `{"success":false,"error":"unknown code"}`)
		return
	}
	_, _ = fmt.Fprintf(w, `{"success":true,"data":{"status":%q}}`, status)
}

func (i *issuer) setDown(down bool) {
	i.mu.Lock()
	i.down = down
	i.mu.Unlock()
}

// LicenseActivationFlowTestSuite drives the assembled server against a file
// backed store and an HTTP authority, restarting the application between
// phases.
type LicenseActivationFlowTestSuite struct {
	suite.Suite
	dbPath   string
	issuer   *issuer
	upstream *httptest.Server
	app      *app.Application
	logger   *slog.Logger
}

func (s *LicenseActivationFlowTestSuite) SetupTest() {
	s.dbPath = filepath.Join(s.T().TempDir(), "license_db.json")
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.issuer = &issuer{statuses: map[string]string{
		issuedKey:  "active",
		revokedKey: "revoked",
	}}
	s.upstream = httptest.NewServer(s.issuer)
	s.start()
}

func (s *LicenseActivationFlowTestSuite) TearDownTest() {
	s.stop()
	s.upstream.Close()
}

func (s *LicenseActivationFlowTestSuite) config() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = config.StoreFile
	cfg.Store.Path = s.dbPath
	cfg.Authority.Kind = config.AuthorityHTTP
	cfg.Authority.URL = s.upstream.URL
	cfg.Authority.Timeout = 2 * time.Second
	cfg.Security.AdminSecret = adminToken
	return cfg
}

func (s *LicenseActivationFlowTestSuite) start() {
	ctx := context.Background()
	cfg := s.config()

	st, err := store.Open(ctx, cfg.Store, s.logger)
	s.Require().NoError(err)
	auth, err := authority.New(ctx, cfg.Authority, s.logger)
	s.Require().NoError(err)

	s.app, err = app.NewWithDependencies(cfg, app.Dependencies{
		Logger: s.logger,
		Providers: &infrastructure.OTelProviders{
			Tracer: tracenoop.NewTracerProvider().Tracer("integration"),
			Meter:  metricnoop.NewMeterProvider().Meter("integration"),
			Logger: s.logger,
		},
		Store:     st,
		Authority: auth,
	})
	s.Require().NoError(err)
}

func (s *LicenseActivationFlowTestSuite) stop() {
	if s.app != nil {
		s.Require().NoError(s.app.Stop(context.Background()))
		s.app = nil
	}
}

func (s *LicenseActivationFlowTestSuite) restart() {
	s.stop()
	s.start()
}

func (s *LicenseActivationFlowTestSuite) call(method, path, body string, admin bool) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	rec := httptest.NewRecorder()
	s.app.Router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec.Code, decoded
}

func (s *LicenseActivationFlowTestSuite) verify(key, device string) map[string]interface{} {
	status, body := s.call(http.MethodPost, "/verify", fmt.Sprintf(`{"key":%q,"deviceId":%q}`, key, device), false)
	s.Require().Equal(http.StatusOK, status)
	return body
}

func (s *LicenseActivationFlowTestSuite) TestBindingSurvivesRestart() {
	s.Equal("Activated!", s.verify(issuedKey, laptop)["message"])
	s.Equal(int64(1), s.issuer.calls.Load())

	s.restart()

	s.Equal("Welcome back!", s.verify(issuedKey, laptop)["message"])
	s.Equal("Key already used on another device.", s.verify(issuedKey, desktop)["message"])
	s.Equal(int64(1), s.issuer.calls.Load(), "known keys are answered locally")
}

func (s *LicenseActivationFlowTestSuite) TestAuthorityOutageFailsClosed() {
	s.Equal("Activated!", s.verify(issuedKey, laptop)["message"])

	s.issuer.setDown(true)

	s.Equal("Welcome back!", s.verify(issuedKey, laptop)["message"])

	body := s.verify("LIC-NEWW-KEYY-0001", laptop)
	s.Equal(false, body["valid"])
	s.Equal("Invalid Key", body["message"])
}

func (s *LicenseActivationFlowTestSuite) TestRevokedAndUnknownKeys() {
	s.Equal("Invalid Key", s.verify(revokedKey, laptop)["message"])
	s.Equal("Invalid Key", s.verify("LIC-NOPE-NOPE-NOPE", laptop)["message"])

	status, body := s.call(http.MethodGet, "/admin/licenses", "", true)
	s.Require().Equal(http.StatusOK, status)
	s.Equal(float64(0), body["total"], "rejected keys are never persisted")
}

func (s *LicenseActivationFlowTestSuite) TestSuspendPersistsAndResetRebinds() {
	s.Equal("Activated!", s.verify(issuedKey, laptop)["message"])

	status, _ := s.call(http.MethodPost, "/admin/suspend", fmt.Sprintf(`{"key":%q}`, issuedKey), true)
	s.Require().Equal(http.StatusOK, status)

	s.restart()

	body := s.verify(issuedKey, laptop)
	s.Equal("License suspended.", body["message"])
	s.Equal(true, body["suspended"])

	status, _ = s.call(http.MethodPost, "/admin/reset",
		fmt.Sprintf(`{"key":%q,"clearSuspension":true}`, issuedKey), true)
	s.Require().Equal(http.StatusOK, status)

	s.restart()

	s.Equal("Activated!", s.verify(issuedKey, desktop)["message"])
	s.Equal("Key already used on another device.", s.verify(issuedKey, laptop)["message"])
}

func (s *LicenseActivationFlowTestSuite) TestProvisionedKeysNeedNoAuthority() {
	status, body := s.call(http.MethodPost, "/admin/keys", `{"count":2}`, true)
	s.Require().Equal(http.StatusCreated, status)
	keys, ok := body["keys"].([]interface{})
	s.Require().True(ok)
	s.Require().Len(keys, 2)

	s.restart()
	s.issuer.setDown(true)

	s.Equal("Activated!", s.verify(keys[0].(string), laptop)["message"])
	s.Equal(int64(0), s.issuer.calls.Load())
}

func (s *LicenseActivationFlowTestSuite) TestConcurrentFirstSight() {
	var (
		wg        sync.WaitGroup
		activated atomic.Int64
	)
	for n := 0; n < 16; n++ {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/verify",
				bytes.NewBufferString(fmt.Sprintf(`{"key":%q,"deviceId":%q}`, issuedKey, device)))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.app.Router.ServeHTTP(rec, req)

			var body map[string]interface{}
			if json.Unmarshal(rec.Body.Bytes(), &body) == nil && body["message"] == "Activated!" {
				activated.Add(1)
			}
		}(fmt.Sprintf("device-%02d", n))
	}
	wg.Wait()

	s.Equal(int64(1), activated.Load())
	s.LessOrEqual(s.issuer.calls.Load(), int64(16))
}

func TestLicenseActivationFlowTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(LicenseActivationFlowTestSuite))
}
