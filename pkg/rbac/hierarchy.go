package rbac

import (
	"fmt"
	"sort"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// effectiveRole holds the memoized transitive closure of one role's grants.
type effectiveRole struct {
	permissions  map[Permission]struct{}
	resources    map[ResourceTag]struct{}
	restrictions map[ResourceTag]struct{}
	scopes       map[string]struct{}
}

// Hierarchy is the role-inheritance graph with effective sets computed once
// at load time. It is immutable after construction and safe for concurrent
// use.
type Hierarchy struct {
	roles     map[string]*RoleDefinition
	effective map[string]*effectiveRole
}

// NewHierarchy builds the hierarchy from role definitions. A cycle or a
// reference to an undefined role is a ConfigurationError; loading must fail
// rather than serve with a broken graph.
func NewHierarchy(defs []RoleDefinition) (*Hierarchy, error) {
	h := &Hierarchy{
		roles:     make(map[string]*RoleDefinition, len(defs)),
		effective: make(map[string]*effectiveRole, len(defs)),
	}

	for i := range defs {
		def := defs[i]
		if def.Name == "" {
			return nil, autherr.NewConfiguration("rbac", fmt.Errorf("role at index %d has no name", i))
		}
		if _, exists := h.roles[def.Name]; exists {
			return nil, autherr.NewConfiguration("rbac", fmt.Errorf("duplicate role %q", def.Name))
		}
		h.roles[def.Name] = &def
	}

	// Validate edges before walking them
	for name, def := range h.roles {
		for _, parent := range def.Inherits {
			if _, ok := h.roles[parent]; !ok {
				return nil, autherr.NewConfiguration("rbac",
					fmt.Errorf("role %q inherits undefined role %q", name, parent))
			}
		}
	}

	// DFS with a visiting set detects cycles and memoizes effective sets
	visiting := make(map[string]bool)
	for name := range h.roles {
		if _, err := h.resolve(name, visiting); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// resolve computes the effective sets for role, recursing into parents.
func (h *Hierarchy) resolve(name string, visiting map[string]bool) (*effectiveRole, error) {
	if eff, ok := h.effective[name]; ok {
		return eff, nil
	}
	if visiting[name] {
		return nil, autherr.NewConfiguration("rbac",
			fmt.Errorf("role inheritance cycle through %q", name))
	}
	visiting[name] = true
	defer delete(visiting, name)

	def := h.roles[name]
	eff := &effectiveRole{
		permissions:  make(map[Permission]struct{}),
		resources:    make(map[ResourceTag]struct{}),
		restrictions: make(map[ResourceTag]struct{}),
		scopes:       make(map[string]struct{}),
	}

	for _, p := range def.Permissions {
		eff.permissions[p] = struct{}{}
	}
	for _, r := range def.Resources {
		eff.resources[r] = struct{}{}
	}
	for _, r := range def.Restrictions {
		eff.restrictions[r] = struct{}{}
	}
	for _, s := range def.Scopes {
		eff.scopes[s] = struct{}{}
	}

	for _, parent := range def.Inherits {
		parentEff, err := h.resolve(parent, visiting)
		if err != nil {
			return nil, err
		}
		for p := range parentEff.permissions {
			eff.permissions[p] = struct{}{}
		}
		for r := range parentEff.resources {
			eff.resources[r] = struct{}{}
		}
		// Restrictions propagate down the graph so an inherited restriction
		// still overrides a local grant
		for r := range parentEff.restrictions {
			eff.restrictions[r] = struct{}{}
		}
		for s := range parentEff.scopes {
			eff.scopes[s] = struct{}{}
		}
	}

	h.effective[name] = eff
	return eff, nil
}

// HasRole reports whether the role is defined.
func (h *Hierarchy) HasRole(name string) bool {
	_, ok := h.roles[name]
	return ok
}

// Role returns the definition of a role, or nil if undefined.
func (h *Hierarchy) Role(name string) *RoleDefinition {
	return h.roles[name]
}

// EffectivePermissions returns the union of a role's own permissions and all
// transitively inherited ones, sorted for determinism.
func (h *Hierarchy) EffectivePermissions(role string) []Permission {
	eff, ok := h.effective[role]
	if !ok {
		return nil
	}
	perms := make([]Permission, 0, len(eff.permissions))
	for p := range eff.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// EffectiveResources returns the union of a role's accessible resource tags,
// with restricted tags already removed.
func (h *Hierarchy) EffectiveResources(role string) []ResourceTag {
	eff, ok := h.effective[role]
	if !ok {
		return nil
	}
	tags := make([]ResourceTag, 0, len(eff.resources))
	for r := range eff.resources {
		if _, restricted := eff.restrictions[r]; restricted {
			continue
		}
		tags = append(tags, r)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// EffectiveScopes returns the role's token scopes, sorted. This is the static
// role-to-scope table consumed by the token issuer.
func (h *Hierarchy) EffectiveScopes(role string) []string {
	eff, ok := h.effective[role]
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(eff.scopes))
	for s := range eff.scopes {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// HasResourceAccess reports whether the role may touch resources tagged with
// tag. The restriction check runs before the grant check on every call;
// a restriction anywhere in the inheritance chain denies access even when a
// grant also matches.
func (h *Hierarchy) HasResourceAccess(role string, tag ResourceTag) bool {
	eff, ok := h.effective[role]
	if !ok {
		return false
	}
	if _, restricted := eff.restrictions[tag]; restricted {
		return false
	}
	_, granted := eff.resources[tag]
	return granted
}
