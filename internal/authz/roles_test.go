package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrants(t *testing.T) {
	tests := []struct {
		role string
		perm Permission
		want bool
	}{
		{"admin", PermCreateUser, true},
		{"admin", PermSystemAdmin, true},
		{"analyst", PermCreateUser, false},
		{"analyst", PermUploadDocument, true},
		{"analyst", PermOverrideAIDecision, true},
		{"analyst", PermAccessBilling, false},
		{"viewer", PermViewDocument, true},
		{"viewer", PermViewTenantSettings, true},
		{"viewer", PermEditDocument, false},
		{"ingestion", PermUploadDocument, true},
		{"ingestion", PermViewDocument, false},
		{"ingestion", PermViewTenantSettings, false},
		{"nonexistent", PermViewDocument, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Grants(tt.role, tt.perm),
			"%s / %s", tt.role, tt.perm)
	}
}

func TestGrantsCaseInsensitive(t *testing.T) {
	assert.True(t, Grants("ADMIN", PermCreateUser))
	assert.True(t, Grants("Analyst", PermSearchDocuments))
}

func TestAnyGrants(t *testing.T) {
	assert.True(t, AnyGrants([]string{"viewer", "ingestion"}, PermUploadDocument))
	assert.False(t, AnyGrants([]string{"viewer", "ingestion"}, PermEditDocument))
	assert.False(t, AnyGrants(nil, PermViewDocument))
}

func TestHasRole(t *testing.T) {
	roles := []string{"admin", "viewer"}

	assert.True(t, HasRole(roles, "admin"))
	assert.True(t, HasRole(roles, "ADMIN"))
	assert.False(t, HasRole(roles, "analyst"))
	assert.False(t, HasRole(nil, "admin"))
}

func TestHasAnyRole(t *testing.T) {
	roles := []string{"viewer"}

	assert.True(t, HasAnyRole(roles, []string{"admin", "viewer"}))
	assert.False(t, HasAnyRole(roles, []string{"admin", "analyst"}))
	assert.False(t, HasAnyRole(roles, nil))
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{"admin", "analyst", "viewer", "ingestion", "ADMIN"} {
		assert.True(t, ValidRole(r), r)
	}
	assert.False(t, ValidRole("superuser"))
	assert.False(t, ValidRole(""))
}

func TestNormalize(t *testing.T) {
	in := []string{"Admin", "VIEWER"}
	out := Normalize(in)

	assert.Equal(t, []string{"admin", "viewer"}, out)
	assert.Equal(t, []string{"Admin", "VIEWER"}, in, "input untouched")
}

func TestPermissionsFor(t *testing.T) {
	assert.Len(t, PermissionsFor("admin"), 15)
	assert.Len(t, PermissionsFor("ingestion"), 1)
	assert.Nil(t, PermissionsFor("ghost"))
}
