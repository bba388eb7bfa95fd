package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webqx-health/authcore/pkg/autherr"
)

func clinicalRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        "staff",
			Permissions: []Permission{PermissionScheduleRead},
			Resources:   []ResourceTag{ResourceScheduling},
			Scopes:      []string{"schedule:read"},
		},
		{
			Name:        "resident",
			Permissions: []Permission{PermissionChartRead, PermissionTelehealthJoin},
			Resources:   []ResourceTag{ResourceEHR, ResourceTelehealth},
			Scopes:      []string{"chart:read", "telehealth:join"},
			Inherits:    []string{"staff"},
		},
		{
			Name:        "fellow",
			Permissions: []Permission{PermissionImagingRead},
			Resources:   []ResourceTag{ResourceImaging},
			Scopes:      []string{"imaging:read"},
			Inherits:    []string{"resident"},
		},
		{
			Name:        "provider",
			Permissions: []Permission{PermissionChartWrite, PermissionOrdersWrite},
			Resources:   []ResourceTag{ResourceEHR},
			Scopes:      []string{"chart:write", "orders:write"},
			Inherits:    []string{"resident"},
		},
		{
			Name:        "attending",
			Permissions: []Permission{PermissionScheduleWrite, PermissionBillingRead},
			Resources:   []ResourceTag{ResourceBilling},
			Scopes:      []string{"billing:read", "schedule:write"},
			Inherits:    []string{"provider", "fellow", "resident", "staff"},
		},
		{
			Name:        "patient",
			Permissions: []Permission{PermissionChartRead, PermissionTelehealthJoin},
			Resources:   []ResourceTag{ResourceTelehealth, ResourceScheduling},
			Restrictions: []ResourceTag{ResourceBilling},
			Scopes:      []string{"chart:read:self", "telehealth:join"},
		},
	}
}

func TestNewHierarchy(t *testing.T) {
	h, err := NewHierarchy(clinicalRoles())
	require.NoError(t, err)
	assert.True(t, h.HasRole("attending"))
	assert.False(t, h.HasRole("admin"))
}

func TestNewHierarchyRejectsCycle(t *testing.T) {
	defs := []RoleDefinition{
		{Name: "a", Inherits: []string{"b"}},
		{Name: "b", Inherits: []string{"a"}},
	}

	_, err := NewHierarchy(defs)
	require.Error(t, err)

	var confErr *autherr.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
	assert.Contains(t, err.Error(), "cycle")
}

func TestNewHierarchyRejectsSelfCycle(t *testing.T) {
	defs := []RoleDefinition{
		{Name: "a", Inherits: []string{"a"}},
	}

	_, err := NewHierarchy(defs)
	var confErr *autherr.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestNewHierarchyRejectsLongCycle(t *testing.T) {
	defs := []RoleDefinition{
		{Name: "a", Inherits: []string{"b"}},
		{Name: "b", Inherits: []string{"c"}},
		{Name: "c", Inherits: []string{"a"}},
	}

	_, err := NewHierarchy(defs)
	var confErr *autherr.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestNewHierarchyRejectsUndefinedParent(t *testing.T) {
	defs := []RoleDefinition{
		{Name: "resident", Inherits: []string{"ghost"}},
	}

	_, err := NewHierarchy(defs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined role")
}

func TestNewHierarchyRejectsDuplicateRole(t *testing.T) {
	defs := []RoleDefinition{
		{Name: "staff"},
		{Name: "staff"},
	}

	_, err := NewHierarchy(defs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestEffectivePermissionsInheritance(t *testing.T) {
	h, err := NewHierarchy(clinicalRoles())
	require.NoError(t, err)

	attending := h.EffectivePermissions("attending")
	resident := h.EffectivePermissions("resident")

	// Diamond inheritance: attending reaches staff through two paths and
	// must still see each permission exactly once
	assert.ElementsMatch(t, []Permission{
		PermissionChartRead, PermissionChartWrite, PermissionOrdersWrite,
		PermissionImagingRead, PermissionTelehealthJoin,
		PermissionScheduleRead, PermissionScheduleWrite, PermissionBillingRead,
	}, attending)

	// Strict superset of resident
	for _, p := range resident {
		assert.Contains(t, attending, p)
	}
	assert.Greater(t, len(attending), len(resident))
}

func TestEffectivePermissionsUnknownRole(t *testing.T) {
	h, err := NewHierarchy(clinicalRoles())
	require.NoError(t, err)
	assert.Nil(t, h.EffectivePermissions("admin"))
}

func TestRestrictionPrecedence(t *testing.T) {
	defs := []RoleDefinition{
		{
			Name:      "base",
			Resources: []ResourceTag{ResourceBilling, ResourceEHR},
		},
		{
			Name:         "restricted",
			Resources:    []ResourceTag{ResourceBilling}, // granted directly too
			Restrictions: []ResourceTag{ResourceBilling},
			Inherits:     []string{"base"},
		},
		{
			Name:     "grandchild",
			Inherits: []string{"restricted"},
		},
	}

	h, err := NewHierarchy(defs)
	require.NoError(t, err)

	// Tag present in both resources and restrictions: restriction wins
	assert.False(t, h.HasResourceAccess("restricted", ResourceBilling))
	assert.True(t, h.HasResourceAccess("restricted", ResourceEHR))

	// Restrictions propagate to inheriting roles
	assert.False(t, h.HasResourceAccess("grandchild", ResourceBilling))

	// The restricted tag never appears in the effective resource list
	assert.NotContains(t, h.EffectiveResources("restricted"), ResourceBilling)
	assert.NotContains(t, h.EffectiveResources("grandchild"), ResourceBilling)
}

func TestHasResourceAccess(t *testing.T) {
	h, err := NewHierarchy(clinicalRoles())
	require.NoError(t, err)

	tests := []struct {
		role     string
		tag      ResourceTag
		expected bool
	}{
		{"attending", ResourceBilling, true},
		{"attending", ResourceImaging, true},
		{"resident", ResourceEHR, true},
		{"resident", ResourceBilling, false},
		{"patient", ResourceTelehealth, true},
		{"patient", ResourceBilling, false}, // restricted
		{"patient", ResourceEHR, false},
		{"unknown", ResourceEHR, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+string(tt.tag), func(t *testing.T) {
			assert.Equal(t, tt.expected, h.HasResourceAccess(tt.role, tt.tag))
		})
	}
}

func TestEffectiveScopes(t *testing.T) {
	h, err := NewHierarchy(clinicalRoles())
	require.NoError(t, err)

	scopes := h.EffectiveScopes("provider")
	assert.Contains(t, scopes, "chart:write")
	assert.Contains(t, scopes, "chart:read") // inherited from resident
	assert.Contains(t, scopes, "schedule:read")

	// Sorted for deterministic token claims
	assert.IsNonDecreasing(t, scopes)
}
