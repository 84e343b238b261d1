package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealInfo binds derived keys to their purpose.
const sealInfo = "palpalette token store v1"

var (
	// ErrEmptyKeyMaterial is returned when a Sealer is built without a secret.
	ErrEmptyKeyMaterial = errors.New("cryptox: empty key material")

	// ErrCiphertextTooShort means the input cannot contain a nonce and a tag.
	ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")
)

// Sealer encrypts values with XChaCha20-Poly1305 under a key derived from
// caller supplied key material through HKDF-SHA256.
// Sealed format: base64url([24-byte nonce][ciphertext][16-byte tag]).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret. The same secret always
// yields the same key, so values survive process restarts.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKeyMaterial
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(sealInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create aead: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. additional is authenticated but not encrypted; the
// token store passes the storage key so sealed values cannot be swapped
// between keys.
func (s *Sealer) Seal(plaintext, additional []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptox: generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, additional)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string, additional []byte) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decode: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize+s.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], additional)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decryption failed: %w", err)
	}
	return plaintext, nil
}
