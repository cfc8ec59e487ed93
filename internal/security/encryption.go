package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// PayloadVersion is the sealed payload format written by EncryptCredentials.
const PayloadVersion = 1

// EncryptionConfig holds the scrypt and AES-GCM parameters.
type EncryptionConfig struct {
	SCryptN      int
	SCryptR      int
	SCryptP      int
	SCryptKeyLen int

	NonceSize int
	TagSize   int
}

// DefaultEncryptionConfig returns the parameters used for new payloads.
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
		TagSize:      16,
	}
}

// SecureCredentials holds decrypted credential bytes until Clear is called.
type SecureCredentials struct {
	data    []byte
	cleared bool
}

// NewSecureCredentials wraps plaintext credential bytes.
func NewSecureCredentials(data []byte) *SecureCredentials {
	return &SecureCredentials{data: data}
}

// Data returns the credential bytes, or nil after Clear.
func (sc *SecureCredentials) Data() []byte {
	if sc.cleared {
		return nil
	}
	return sc.data
}

// Clear zeroes the credential bytes.
func (sc *SecureCredentials) Clear() {
	if sc.cleared {
		return
	}
	for i := range sc.data {
		sc.data[i] = 0
	}
	sc.data = nil
	sc.cleared = true
}

// EncryptedPayload is the sealed credential file layout.
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
	Integrity  []byte `json:"integrity"`

	// Key derivation cost; zero means the defaults.
	SCryptN int `json:"scrypt_n,omitempty"`
	SCryptR int `json:"scrypt_r,omitempty"`
	SCryptP int `json:"scrypt_p,omitempty"`
}

// EncryptCredentials seals plaintext under a key derived from passphrase.
func EncryptCredentials(plaintext, passphrase []byte, config *EncryptionConfig) (*EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(passphrase) < 12 {
		return nil, errors.New("passphrase must be at least 12 bytes")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt, config)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, config.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-config.TagSize]
	authTag := sealed[len(sealed)-config.TagSize:]

	return &EncryptedPayload{
		Version:    PayloadVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    authTag,
		Integrity:  generateIntegrityHash(ciphertext, salt, nonce),
		SCryptN:    config.SCryptN,
		SCryptR:    config.SCryptR,
		SCryptP:    config.SCryptP,
	}, nil
}

// DecryptCredentials opens a payload sealed by EncryptCredentials.
func DecryptCredentials(payload *EncryptedPayload, passphrase []byte, config *EncryptionConfig) (*SecureCredentials, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase is required to open sealed credentials")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if payload.SCryptN > 0 {
		derived := *config
		derived.SCryptN, derived.SCryptR, derived.SCryptP = payload.SCryptN, payload.SCryptR, payload.SCryptP
		config = &derived
	}
	if payload.Version != PayloadVersion {
		return nil, fmt.Errorf("unsupported payload version: %d", payload.Version)
	}

	expected := generateIntegrityHash(payload.Ciphertext, payload.Salt, payload.Nonce)
	if subtle.ConstantTimeCompare(payload.Integrity, expected) != 1 {
		return nil, errors.New("integrity verification failed")
	}

	gcm, err := newGCM(passphrase, payload.Salt, config)
	if err != nil {
		return nil, err
	}

	full := make([]byte, 0, len(payload.Ciphertext)+len(payload.AuthTag))
	full = append(full, payload.Ciphertext...)
	full = append(full, payload.AuthTag...)

	plaintext, err := gcm.Open(nil, payload.Nonce, full, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return NewSecureCredentials(plaintext), nil
}

func newGCM(passphrase, salt []byte, config *EncryptionConfig) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, config.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func generateIntegrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte("LICENSELOCK-INTEGRITY-V1"))
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

// ValidateEncryptionConfig rejects parameters weaker than the defaults.
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN < 32768 {
		return errors.New("SCryptN must be at least 32768")
	}
	if config.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	if config.TagSize != 16 {
		return errors.New("TagSize must be 16 for AES-GCM")
	}
	return nil
}
