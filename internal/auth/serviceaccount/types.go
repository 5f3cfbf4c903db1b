// Package serviceaccount manages long-lived opaque bearer tokens used
// for scripted ingestion. Only the SHA-256 hash of a secret is ever
// stored; the plain secret is returned once at creation.
package serviceaccount

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Token is one service-account token record. The secret itself is not
// part of the record.
type Token struct {
	TokenID   uuid.UUID  `json:"token_id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	TokenHash string     `json:"-"` // SHA-256 hex, never exposed
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	IsRevoked bool       `json:"is_revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// CreateRequest is the input for minting a new token.
type CreateRequest struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedBy string `json:"created_by,omitempty"`
}

// CreateResponse carries the plain secret exactly once, at creation.
type CreateResponse struct {
	Token     string    `json:"token"` // plain secret, only here
	TokenID   uuid.UUID `json:"token_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// HashSecret returns the SHA-256 hex digest of a raw secret. This is
// the only form in which secrets touch storage or logs.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
