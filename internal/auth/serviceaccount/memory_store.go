package serviceaccount

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local
// development. It honors the same latch semantics as the postgres
// store.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Token
	byID   map[uuid.UUID]*Token
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Token),
		byID:   make(map[uuid.UUID]*Token),
	}
}

// FindByHash returns the record whose token_hash matches.
func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.byHash[hash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *tok
	return &cp, nil
}

// Insert stores a new record.
func (s *MemoryStore) Insert(_ context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[tok.TokenHash]; ok {
		return ErrDuplicateToken
	}
	if tok.TokenID == uuid.Nil {
		tok.TokenID = uuid.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}

	cp := *tok
	s.byHash[cp.TokenHash] = &cp
	s.byID[cp.TokenID] = &cp
	return nil
}

// ListByTenant returns all records for a tenant, newest first.
func (s *MemoryStore) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var toks []*Token
	for _, tok := range s.byID {
		if tok.TenantID == tenantID {
			cp := *tok
			toks = append(toks, &cp)
		}
	}
	sort.Slice(toks, func(i, j int) bool {
		return toks[i].CreatedAt.After(toks[j].CreatedAt)
	})
	return toks, nil
}

// Revoke latches is_revoked for the token.
func (s *MemoryStore) Revoke(_ context.Context, tokenID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byID[tokenID]
	if !ok || tok.TenantID != tenantID {
		return ErrTokenNotFound
	}
	if !tok.IsRevoked {
		now := time.Now().UTC()
		tok.IsRevoked = true
		tok.RevokedAt = &now
	}
	return nil
}

// UpdateLastUsed records usage of the token identified by hash.
func (s *MemoryStore) UpdateLastUsed(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byHash[hash]
	if !ok {
		return ErrTokenNotFound
	}
	now := time.Now().UTC()
	tok.LastUsed = &now
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
