// Package authz holds the closed role and permission model. The
// role-to-permission mapping is a code-level table; changing it is a
// code change, never runtime data.
package authz

import "strings"

// Role names. Comparisons are case-insensitive; the canonical form is
// lowercase.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAnalyst   Role = "analyst"
	RoleViewer    Role = "viewer"
	RoleIngestion Role = "ingestion"
)

// Permission names.
type Permission string

const (
	PermCreateUser           Permission = "create_user"
	PermDeleteUser           Permission = "delete_user"
	PermUpdateUser           Permission = "update_user"
	PermListUsers            Permission = "list_users"
	PermModifyTenantSettings Permission = "modify_tenant_settings"
	PermViewTenantSettings   Permission = "view_tenant_settings"
	PermAccessBilling        Permission = "access_billing"
	PermUploadDocument       Permission = "upload_document"
	PermEditDocument         Permission = "edit_document"
	PermDeleteDocument       Permission = "delete_document"
	PermViewDocument         Permission = "view_document"
	PermSearchDocuments      Permission = "search_documents"
	PermOverrideAIDecision   Permission = "override_ai_decision"
	PermTrainModel           Permission = "train_model"
	PermSystemAdmin          Permission = "system_admin"
)

// rolePermissions is the static grant table.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin: {
		PermCreateUser: {}, PermDeleteUser: {}, PermUpdateUser: {}, PermListUsers: {},
		PermModifyTenantSettings: {}, PermViewTenantSettings: {},
		PermAccessBilling:  {},
		PermUploadDocument: {}, PermEditDocument: {}, PermDeleteDocument: {},
		PermViewDocument: {}, PermSearchDocuments: {},
		PermOverrideAIDecision: {},
		PermTrainModel:         {}, PermSystemAdmin: {},
	},
	RoleAnalyst: {
		PermViewTenantSettings: {},
		PermUploadDocument:     {}, PermEditDocument: {}, PermDeleteDocument: {},
		PermViewDocument: {}, PermSearchDocuments: {},
		PermOverrideAIDecision: {},
	},
	RoleViewer: {
		PermViewTenantSettings: {},
		PermViewDocument:       {}, PermSearchDocuments: {},
	},
	RoleIngestion: {
		PermUploadDocument: {},
	},
}

// Grants reports whether a single role grants the permission.
func Grants(role string, perm Permission) bool {
	perms, ok := rolePermissions[Role(strings.ToLower(role))]
	if !ok {
		return false
	}
	_, ok = perms[perm]
	return ok
}

// AnyGrants reports whether any of the roles grants the permission.
func AnyGrants(roles []string, perm Permission) bool {
	for _, r := range roles {
		if Grants(r, perm) {
			return true
		}
	}
	return false
}

// HasRole reports whether the role list contains the role,
// case-insensitively.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the role list intersects the required set.
func HasAnyRole(roles []string, required []string) bool {
	for _, want := range required {
		if HasRole(roles, want) {
			return true
		}
	}
	return false
}

// ValidRole reports whether the name is one of the closed role set.
func ValidRole(role string) bool {
	_, ok := rolePermissions[Role(strings.ToLower(role))]
	return ok
}

// Normalize lowercases role names. The result is a new slice.
func Normalize(roles []string) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = strings.ToLower(r)
	}
	return out
}

// PermissionsFor returns the permissions granted by a role, or nil for
// unknown roles.
func PermissionsFor(role string) []Permission {
	perms, ok := rolePermissions[Role(strings.ToLower(role))]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	return out
}
