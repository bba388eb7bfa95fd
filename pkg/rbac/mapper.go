package rbac

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const mapperCacheSize = 4096

// Mapper resolves a federated identity's external roles and groups onto an
// internal role. Mapping is a pure function of the external role set, which
// makes its results safe to cache.
type Mapper struct {
	hierarchy   *Hierarchy
	mappings    []RoleMapping
	defaultRole string
	cache       *lru.Cache[string, Resolution]
}

// NewMapper creates a mapper over the hierarchy and the configured
// external-to-internal mapping table. Mappings that point at undefined roles
// were already rejected by the loader.
func NewMapper(hierarchy *Hierarchy, mappings []RoleMapping, defaultRole string) *Mapper {
	if defaultRole == "" {
		defaultRole = DefaultRole
	}
	cache, _ := lru.New[string, Resolution](mapperCacheSize)
	return &Mapper{
		hierarchy:   hierarchy,
		mappings:    mappings,
		defaultRole: defaultRole,
		cache:       cache,
	}
}

// MapRole maps the identity's external roles and groups to an internal role
// with its effective permission and resource sets.
//
// Selection: every mapping whose external name appears in the identity's
// role or group set is a candidate; the candidate with the highest
// specificity wins, and ties keep the earliest configured mapping. An
// identity matching nothing degrades to the default (lowest-privilege) role,
// never to an error.
func (m *Mapper) MapRole(externalRoles, externalGroups []string) Resolution {
	key := cacheKey(externalRoles, externalGroups)
	if res, ok := m.cache.Get(key); ok {
		return res
	}

	external := make(map[string]struct{}, len(externalRoles)+len(externalGroups))
	for _, r := range externalRoles {
		external[normalize(r)] = struct{}{}
	}
	for _, g := range externalGroups {
		external[normalize(g)] = struct{}{}
	}

	role := m.defaultRole
	bestSpecificity := -1
	for _, mapping := range m.mappings {
		if _, ok := external[normalize(mapping.External)]; !ok {
			continue
		}
		// Strictly greater keeps configuration order as the tie-break
		if mapping.Specificity > bestSpecificity {
			bestSpecificity = mapping.Specificity
			role = mapping.Role
		}
	}

	res := Resolution{
		Role:        role,
		Permissions: m.hierarchy.EffectivePermissions(role),
		Resources:   m.hierarchy.EffectiveResources(role),
	}
	m.cache.Add(key, res)
	return res
}

// DefaultRole returns the configured fallback role.
func (m *Mapper) DefaultRole() string {
	return m.defaultRole
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cacheKey(roles, groups []string) string {
	all := make([]string, 0, len(roles)+len(groups))
	for _, r := range roles {
		all = append(all, normalize(r))
	}
	for _, g := range groups {
		all = append(all, normalize(g))
	}
	sort.Strings(all)
	return strings.Join(all, "\x1f")
}
