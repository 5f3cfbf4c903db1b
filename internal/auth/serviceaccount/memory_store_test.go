package serviceaccount

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedToken(t *testing.T, s *MemoryStore, tenantID uuid.UUID, role string) (*Token, string) {
	t.Helper()

	secret, hash, err := NewGenerator().Generate()
	require.NoError(t, err)

	tok := &Token{
		TenantID:  tenantID,
		TokenHash: hash,
		Name:      "test-token",
		Role:      role,
		CreatedBy: "admin@example.com",
	}
	require.NoError(t, s.Insert(context.Background(), tok))
	return tok, secret
}

func TestMemoryStoreFindByHash(t *testing.T) {
	s := NewMemoryStore()
	tenantID := uuid.New()
	tok, secret := seedToken(t, s, tenantID, "ingestion")

	got, err := s.FindByHash(context.Background(), HashSecret(secret))
	require.NoError(t, err)
	assert.Equal(t, tok.TokenID, got.TokenID)
	assert.Equal(t, tenantID, got.TenantID)
	assert.False(t, got.IsRevoked)

	_, err = s.FindByHash(context.Background(), HashSecret("unknown"))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStoreDuplicate(t *testing.T) {
	s := NewMemoryStore()
	tok, _ := seedToken(t, s, uuid.New(), "viewer")

	err := s.Insert(context.Background(), &Token{
		TenantID:  tok.TenantID,
		TokenHash: tok.TokenHash,
	})
	assert.ErrorIs(t, err, ErrDuplicateToken)
}

func TestMemoryStoreRevokeIsALatch(t *testing.T) {
	s := NewMemoryStore()
	tenantID := uuid.New()
	tok, secret := seedToken(t, s, tenantID, "admin")

	require.NoError(t, s.Revoke(context.Background(), tok.TokenID, tenantID))

	got, err := s.FindByHash(context.Background(), HashSecret(secret))
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	require.NotNil(t, got.RevokedAt)
	firstRevokedAt := *got.RevokedAt

	// Second revoke is a no-op that keeps the first timestamp.
	require.NoError(t, s.Revoke(context.Background(), tok.TokenID, tenantID))
	got, err = s.FindByHash(context.Background(), HashSecret(secret))
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	assert.Equal(t, firstRevokedAt, *got.RevokedAt)
}

func TestMemoryStoreRevokeScopedToTenant(t *testing.T) {
	s := NewMemoryStore()
	tok, _ := seedToken(t, s, uuid.New(), "admin")

	err := s.Revoke(context.Background(), tok.TokenID, uuid.New())
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStoreListByTenant(t *testing.T) {
	s := NewMemoryStore()
	tenantID := uuid.New()
	seedToken(t, s, tenantID, "admin")
	seedToken(t, s, tenantID, "viewer")
	seedToken(t, s, uuid.New(), "admin")

	toks, err := s.ListByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Len(t, toks, 2)
}

func TestMemoryStoreUpdateLastUsed(t *testing.T) {
	s := NewMemoryStore()
	_, secret := seedToken(t, s, uuid.New(), "ingestion")
	hash := HashSecret(secret)

	require.NoError(t, s.UpdateLastUsed(context.Background(), hash))

	got, err := s.FindByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsed)
}
