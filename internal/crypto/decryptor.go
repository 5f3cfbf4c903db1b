// Package crypto decrypts control-plane secrets. AES-256-GCM only; no
// password-derived keys, no legacy formats.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	keyBytes   = 32
	nonceBytes = 12
	tagBytes   = 16
)

// ErrDecrypt is the single error surfaced for every decryption failure.
// Wrong key, truncation, and tampering are indistinguishable to
// callers; internal detail must not leak into responses or logs.
var ErrDecrypt = errors.New("invalid key or corrupted data")

// Decryptor decrypts AES-256-GCM payloads produced by the provisioning
// service. The wire format is base64url(nonce || ciphertext || tag)
// with a 12-byte nonce and 16-byte tag. Safe for parallel use.
type Decryptor struct {
	aead cipher.AEAD
}

// NewDecryptor creates a decryptor from a URL-safe base64 encoding of
// exactly 32 key bytes. Any other key format is rejected here, at
// startup, with a precise diagnostic.
func NewDecryptor(keyB64 string) (*Decryptor, error) {
	if keyB64 == "" {
		return nil, errors.New("encryption key is empty")
	}

	key, err := base64.URLEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64url: %w", err)
	}
	if len(key) != keyBytes {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", keyBytes, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceBytes)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Decryptor{aead: aead}, nil
}

// Decrypt returns the plaintext for a base64url payload. The aad
// parameter binds the ciphertext to its context; pass "" when the
// producer used none. Every failure returns ErrDecrypt.
func (d *Decryptor) Decrypt(payloadB64, aad string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < nonceBytes+tagBytes {
		return "", ErrDecrypt
	}

	nonce, ciphertext := raw[:nonceBytes], raw[nonceBytes:]
	plain, err := d.aead.Open(nil, nonce, ciphertext, aadBytes(aad))
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plain), nil
}

// Encrypt produces a payload Decrypt accepts. Used by provisioning
// helpers and tests; the admission path itself never encrypts.
func (d *Decryptor) Encrypt(plaintext, aad string) (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := d.aead.Seal(nonce, nonce, []byte(plaintext), aadBytes(aad))
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// GenerateKey returns a fresh random key in the format NewDecryptor
// accepts.
func GenerateKey() (string, error) {
	key := make([]byte, keyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

func aadBytes(aad string) []byte {
	if aad == "" {
		return nil
	}
	return []byte(aad)
}
