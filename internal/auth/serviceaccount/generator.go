package serviceaccount

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	secretPrefix = "sa_"
	secretBytes  = 32
)

// Generator mints service-account secrets.
type Generator struct{}

// NewGenerator creates a new secret generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a new plain secret and its SHA-256 hash. The caller
// stores only the hash and hands the secret to the creator once.
func (g *Generator) Generate() (secret, hash string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	secret = secretPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return secret, HashSecret(secret), nil
}

// ValidFormat reports whether a raw credential even looks like a
// service-account secret. Used only for fast-path decisions; the
// authoritative check is the hash lookup.
func (g *Generator) ValidFormat(raw string) bool {
	if !strings.HasPrefix(raw, secretPrefix) {
		return false
	}
	rest := strings.TrimPrefix(raw, secretPrefix)
	_, err := base64.RawURLEncoding.DecodeString(rest)
	return err == nil && len(rest) > 0
}
