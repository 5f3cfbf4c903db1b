package controlplane

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Store errors.
var (
	// ErrTenantNotFound is returned when no tenant row matches the id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrDatabaseNotFound is returned when the tenant has no active
	// database row.
	ErrDatabaseNotFound = errors.New("tenant database not found")
)

// Store reads tenant registry rows. Implementations must be safe for
// parallel use; the resolver calls them from many workers at once.
type Store interface {
	// GetTenant returns the tenant row or ErrTenantNotFound. Status is
	// not checked here; callers decide what inactive means.
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)

	// GetActiveDatabase returns the single active database row for the
	// tenant, or ErrDatabaseNotFound.
	GetActiveDatabase(ctx context.Context, tenantID uuid.UUID) (*TenantDatabase, error)

	// Close releases store resources.
	Close() error
}
