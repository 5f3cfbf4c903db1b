package controlplane

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local
// development.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[uuid.UUID]*Tenant
	databases map[uuid.UUID][]*TenantDatabase
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[uuid.UUID]*Tenant),
		databases: make(map[uuid.UUID][]*TenantDatabase),
	}
}

// AddTenant registers a tenant row.
func (s *MemoryStore) AddTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.TenantID] = &cp
}

// AddDatabase registers a database row for a tenant.
func (s *MemoryStore) AddDatabase(d *TenantDatabase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.databases[d.TenantID] = append(s.databases[d.TenantID], &cp)
}

// GetTenant returns the tenant row or ErrTenantNotFound.
func (s *MemoryStore) GetTenant(_ context.Context, tenantID uuid.UUID) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// GetActiveDatabase returns the first active database row for the
// tenant.
func (s *MemoryStore) GetActiveDatabase(_ context.Context, tenantID uuid.UUID) (*TenantDatabase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.databases[tenantID] {
		if d.Status == StatusActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDatabaseNotFound
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
