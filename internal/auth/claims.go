// Package auth turns raw bearer credentials into authenticated claims.
// Two token kinds share the Authorization header: signed JWTs issued by
// the identity provider, and opaque service-account tokens created by
// tenant admins. Disambiguation is by revocation-index hash lookup
// first, then JWT parse; the ordering keeps signed-but-revoked service
// tokens from being accepted by signature alone.
package auth

import (
	"time"

	"github.com/car-platform/go-core/internal/authz"
)

// Custom JWT claims live under a URL namespace so they cannot collide
// with standard or third-party claims.
const (
	ClaimNamespace = "https://car.platform/"
	TenantIDClaim  = ClaimNamespace + "tenant_id"
	RolesClaim     = ClaimNamespace + "roles"
)

// Claims is the authenticated identity of one request. It is
// constructed by the Validator and lives only for the request. A Claims
// value with an empty TenantID is never returned; validation fails
// first.
type Claims struct {
	// Subject is the user id for JWTs or the token id for
	// service-account tokens.
	Subject string

	// TenantID is the canonical (lowercase, hyphenated) UUID string.
	TenantID string

	// Roles are lowercase role names. Missing or malformed role claims
	// become the empty set, never an error.
	Roles []string

	// Audience, IssuedAt and ExpiresAt carry the standard claims when
	// present. Service-account tokens leave ExpiresAt nil.
	Audience  []string
	IssuedAt  *time.Time
	ExpiresAt *time.Time

	// ServiceAccount marks claims synthesized from a service-account
	// token record rather than a verified JWT.
	ServiceAccount bool
}

// HasRole reports whether the claims carry the role, case-insensitively.
func (c *Claims) HasRole(role string) bool {
	return authz.HasRole(c.Roles, role)
}

// HasAnyRole reports whether the claims carry any of the roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	return authz.HasAnyRole(c.Roles, roles)
}

// HasPermission reports whether any role in the claims grants the
// permission via the static role table.
func (c *Claims) HasPermission(perm authz.Permission) bool {
	return authz.AnyGrants(c.Roles, perm)
}
