// internal/secret/sealer.go
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sealer encrypts personal access tokens before they hit the database and
// decrypts them for the credential provider. AES-256-GCM with a random nonce
// prepended to the ciphertext, base64-encoded for the text column.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the AES key from the configured passphrase.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, errors.New("token seal key must not be empty")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts a token. Sealing the empty string yields the empty string so
// "no token stored" round-trips cleanly.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed token.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("malformed sealed token: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("malformed sealed token: too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unseal token: %w", err)
	}
	return string(plaintext), nil
}
