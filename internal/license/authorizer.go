package license

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	apperrors "licenselock/internal/errors"
)

// SecretAuthorizer checks a presented administrative secret against the
// configured one. The zero value and an authorizer built from an empty secret
// reject every request.
type SecretAuthorizer struct {
	digest [sha256.Size]byte
	set    bool
}

// NewSecretAuthorizer returns an authorizer for secret.
func NewSecretAuthorizer(secret string) SecretAuthorizer {
	if secret == "" {
		return SecretAuthorizer{}
	}
	return SecretAuthorizer{digest: sha256.Sum256([]byte(secret)), set: true}
}

// Enabled reports whether a secret is configured.
func (a SecretAuthorizer) Enabled() bool {
	return a.set
}

// Authorize returns an error wrapping errors.ErrUnauthorized unless presented
// equals the configured secret. Digests are compared so that timing does not
// depend on the secret's length.
func (a SecretAuthorizer) Authorize(presented string) error {
	if !a.set {
		return fmt.Errorf("%w: administrative secret not configured", apperrors.ErrUnauthorized)
	}
	got := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(got[:], a.digest[:]) != 1 {
		return fmt.Errorf("%w: secret mismatch", apperrors.ErrUnauthorized)
	}
	return nil
}
