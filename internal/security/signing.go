package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SignedRequest wraps an authority payload with replay protection.
type SignedRequest struct {
	Timestamp int64          `json:"timestamp"`
	Nonce     string         `json:"nonce"`
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature,omitempty"`
}

// RequestSigner signs authority requests with a shared secret.
type RequestSigner struct {
	secret []byte
	window time.Duration
}

// NewRequestSigner returns a signer. Requests older than window fail Verify.
func NewRequestSigner(secret string, window time.Duration) *RequestSigner {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RequestSigner{secret: []byte(secret), window: window}
}

// Enabled reports whether a shared secret is configured.
func (s *RequestSigner) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// NewSignedRequest builds and signs a request for payload.
func (s *RequestSigner) NewSignedRequest(payload map[string]any, requestID string, now time.Time) (*SignedRequest, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	req := &SignedRequest{
		Timestamp: now.Unix(),
		Nonce:     nonce,
		RequestID: requestID,
		Payload:   payload,
	}
	if !s.Enabled() {
		return req, nil
	}

	req.Signature, err = s.sign(req)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return req, nil
}

// Verify checks the signature and freshness of req.
func (s *RequestSigner) Verify(req *SignedRequest, now time.Time) error {
	if !s.Enabled() {
		return errors.New("request signing is not configured")
	}
	if req.Signature == "" {
		return errors.New("request signature is missing")
	}

	age := now.Sub(time.Unix(req.Timestamp, 0))
	if age > s.window || age < -s.window {
		return errors.New("request timestamp outside the allowed window")
	}

	expected, err := s.sign(req)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(req.Signature), []byte(expected)) {
		return errors.New("HMAC signature verification failed")
	}
	return nil
}

func (s *RequestSigner) sign(req *SignedRequest) (string, error) {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	canonical := fmt.Sprintf("%d|%s|%s|%s", req.Timestamp, req.Nonce, req.RequestID, payloadJSON)

	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func generateNonce() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return hex.EncodeToString(nonce), nil
}
