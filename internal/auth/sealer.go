package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSeal is returned when a sealed value cannot be decrypted.
var ErrInvalidSeal = errors.New("invalid sealed value")

// Sealer encrypts small JSON values for storage in cookies with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer. The key must be exactly 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealer key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal serializes v and returns it encrypted, URL-safe base64 encoded.
func (s *Sealer) Seal(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal into v.
func (s *Sealer) Open(sealed string, v any) error {
	ciphertext, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return ErrInvalidSeal
	}
	if len(ciphertext) < s.aead.NonceSize() {
		return ErrInvalidSeal
	}

	nonce := ciphertext[:s.aead.NonceSize()]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext[s.aead.NonceSize():], nil)
	if err != nil {
		return ErrInvalidSeal
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}
