package security

import (
	"encoding/json"
	"fmt"
	"os"
)

// IsSealed reports whether data is a sealed credential payload rather than a
// plain service account document.
func IsSealed(data []byte) bool {
	var header struct {
		Version    uint8  `json:"version"`
		Ciphertext []byte `json:"ciphertext"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return false
	}
	return header.Version != 0 && len(header.Ciphertext) > 0
}

// LoadCredentials reads a service account file. Sealed files are opened with
// passphrase; plain files are returned as-is.
func LoadCredentials(path, passphrase string) (*SecureCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	if !IsSealed(data) {
		if !json.Valid(data) {
			return nil, fmt.Errorf("credentials file %s is not valid JSON", path)
		}
		return NewSecureCredentials(data), nil
	}

	var payload EncryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse sealed credentials: %w", err)
	}
	creds, err := DecryptCredentials(&payload, []byte(passphrase), nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed credentials %s: %w", path, err)
	}
	for i := range data {
		data[i] = 0
	}
	return creds, nil
}

// SealCredentialsFile encrypts the plain credentials at inPath into outPath.
func SealCredentialsFile(inPath, outPath, passphrase string, config *EncryptionConfig) error {
	plaintext, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	defer func() {
		for i := range plaintext {
			plaintext[i] = 0
		}
	}()

	if !json.Valid(plaintext) {
		return fmt.Errorf("credentials file %s is not valid JSON", inPath)
	}
	if IsSealed(plaintext) {
		return fmt.Errorf("credentials file %s is already sealed", inPath)
	}

	payload, err := EncryptCredentials(plaintext, []byte(passphrase), config)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sealed credentials: %w", err)
	}
	if err := os.WriteFile(outPath, out, 0o600); err != nil {
		return fmt.Errorf("write sealed credentials: %w", err)
	}
	return nil
}
