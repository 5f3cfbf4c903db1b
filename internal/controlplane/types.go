// Package controlplane reads the shared tenant registry: which tenants
// exist, whether they are active, and where each tenant's database
// lives. The schema is owned by the provisioning service; this package
// only consumes it.
package controlplane

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant statuses. Only active tenants are resolvable.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
	StatusPending   = "pending"
)

// Tenant environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Tenant is one customer record from the tenants table.
type Tenant struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Active reports whether the tenant may be resolved.
func (t *Tenant) Active() bool {
	return t.Status == StatusActive
}

// TenantDatabase is one row from tenant_databases. The connection
// string is stored encrypted and never leaves this struct in plain
// form.
type TenantDatabase struct {
	ID                        uuid.UUID `json:"id"`
	TenantID                  uuid.UUID `json:"tenant_id"`
	ConnectionStringEncrypted string    `json:"-"`
	DatabaseName              string    `json:"database_name"`
	Host                      string    `json:"host"`
	Port                      int       `json:"port"`
	Status                    string    `json:"status"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// DatabaseName derives the per-tenant database name from the tenant id:
// car_ followed by the UUID with hyphens replaced by underscores.
func DatabaseName(tenantID uuid.UUID) string {
	return "car_" + strings.ReplaceAll(tenantID.String(), "-", "_")
}
