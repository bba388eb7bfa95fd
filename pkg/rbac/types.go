package rbac

// Permission represents a named capability granted by a role
type Permission string

const (
	PermissionChartRead      Permission = "chart:read"
	PermissionChartWrite     Permission = "chart:write"
	PermissionOrdersWrite    Permission = "orders:write"
	PermissionImagingRead    Permission = "imaging:read"
	PermissionTelehealthJoin Permission = "telehealth:join"
	PermissionScheduleRead   Permission = "schedule:read"
	PermissionScheduleWrite  Permission = "schedule:write"
	PermissionBillingRead    Permission = "billing:read"
	PermissionAuditRead      Permission = "audit:read"
)

// ResourceTag labels a class of protected resources
type ResourceTag string

const (
	ResourceEHR        ResourceTag = "ehr"
	ResourceImaging    ResourceTag = "imaging"
	ResourceTelehealth ResourceTag = "telehealth"
	ResourceScheduling ResourceTag = "scheduling"
	ResourceBilling    ResourceTag = "billing"
)

// DefaultRole is the lowest-privilege role. Identities whose external roles
// match no configured mapping degrade to it rather than being denied or
// elevated.
const DefaultRole = "patient"

// RoleDefinition describes one role: its own grants, its restrictions, and
// the roles it inherits from. Restrictions always win over inherited grants.
type RoleDefinition struct {
	Name         string        `yaml:"name" json:"name"`
	Description  string        `yaml:"description,omitempty" json:"description,omitempty"`
	Permissions  []Permission  `yaml:"permissions" json:"permissions"`
	Resources    []ResourceTag `yaml:"resources" json:"resources"`
	Restrictions []ResourceTag `yaml:"restrictions,omitempty" json:"restrictions,omitempty"`
	Scopes       []string      `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Inherits     []string      `yaml:"inherits,omitempty" json:"inherits,omitempty"`
}

// RoleMapping maps one external role or group name to an internal role.
// Higher specificity wins when several mappings match; ties are broken by
// configuration order.
type RoleMapping struct {
	External    string `yaml:"external" json:"external"`
	Role        string `yaml:"role" json:"role"`
	Specificity int    `yaml:"specificity" json:"specificity"`
}

// Resolution is the result of mapping a federated identity onto the
// internal RBAC scheme.
type Resolution struct {
	Role        string        `json:"role"`
	Permissions []Permission  `json:"permissions"`
	Resources   []ResourceTag `json:"resources"`
}
