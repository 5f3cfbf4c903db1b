package serviceaccount

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Store errors.
var (
	// ErrTokenNotFound is returned when no record matches the lookup.
	ErrTokenNotFound = errors.New("service account token not found")

	// ErrDuplicateToken is returned when a hash collides with an existing
	// record.
	ErrDuplicateToken = errors.New("service account token already exists")
)

// Store is the hash-indexed service-account token store. Revocation is
// a latch: once is_revoked is set it never returns to false, and the
// transition is visible to FindByHash within at most one second.
type Store interface {
	// FindByHash returns the record whose token_hash matches, or
	// ErrTokenNotFound. This is the hot path, called on every request
	// carrying an opaque credential.
	FindByHash(ctx context.Context, hash string) (*Token, error)

	// Insert stores a new record. The TokenHash field must already hold
	// the SHA-256 hash, never a plaintext secret.
	Insert(ctx context.Context, tok *Token) error

	// ListByTenant returns all records for a tenant, newest first.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Token, error)

	// Revoke latches is_revoked for the token. The tenant id scopes the
	// update so one tenant's admin cannot revoke another's tokens.
	Revoke(ctx context.Context, tokenID, tenantID uuid.UUID) error

	// UpdateLastUsed records usage. At-least-once, eventually; callers
	// fire it asynchronously and tolerate lag.
	UpdateLastUsed(ctx context.Context, hash string) error

	// Close releases store resources.
	Close() error
}
