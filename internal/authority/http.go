package authority

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"licenselock/internal/config"
	"licenselock/internal/security"
)

const maxResponseBytes = 1 << 20

// validateResponse is the endpoint's reply to a validate action.
type validateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Status string `json:"status"`
	} `json:"data"`
}

// HTTPAuthority asks a web endpoint whether a key was issued. It posts
// {"action":"validate","code":KEY}, wrapped in a signed envelope when a
// shared secret is configured.
type HTTPAuthority struct {
	endpoint  string
	client    *http.Client
	signer    *security.RequestSigner
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

// NewHTTPAuthority validates the endpoint and builds the client.
func NewHTTPAuthority(cfg config.AuthorityConfig, logger *slog.Logger) (*HTTPAuthority, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid authority url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("authority url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("authority url has no host")
	}

	return &HTTPAuthority{
		endpoint: cfg.URL,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		signer:    security.NewRequestSigner(cfg.SharedSecret, 5*time.Minute),
		userAgent: cfg.UserAgent,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Verify implements license.Authority.
func (a *HTTPAuthority) Verify(ctx context.Context, identifier string) (bool, error) {
	requestID := uuid.NewString()
	payload := map[string]any{"action": "validate", "code": identifier}

	var body any = payload
	if a.signer.Enabled() {
		signed, err := a.signer.NewSignedRequest(payload, requestID, a.now())
		if err != nil {
			return false, err
		}
		body = signed
	}
	data, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Exactly one attempt; failures are not retried.
	genuine, err := a.send(ctx, data, requestID)
	if err != nil {
		return false, fmt.Errorf("authority request failed: %w", err)
	}
	return genuine, nil
}

func (a *HTTPAuthority) send(ctx context.Context, data []byte, requestID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set(config.HeaderRequestID, requestID)
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return false, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	raw, err := io.ReadAll(io.LimitReader(reader, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("HTTP %d from authority", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed validateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if !parsed.Success {
		a.logger.DebugContext(ctx, "Authority rejected key",
			slog.String("request_id", requestID),
			slog.String("reason", parsed.Error))
		return false, nil
	}
	return genuineStatus(parsed.Data.Status), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "... (truncated)"
}
