package rbac

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// RolesFile is the on-disk shape of the role configuration: the role
// definitions, the external-to-internal mapping table, and the fallback role.
type RolesFile struct {
	Roles       []RoleDefinition `yaml:"roles"`
	Mappings    []RoleMapping    `yaml:"mappings"`
	DefaultRole string           `yaml:"default_role"`
}

// Load reads role configuration from a YAML file and builds the hierarchy
// and mapper. Any structural problem, including an inheritance cycle, is a
// ConfigurationError raised here at load time.
func Load(path string) (*Hierarchy, *Mapper, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, autherr.NewConfiguration("rbac", fmt.Errorf("open roles file: %w", err))
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader parses role configuration from r. See Load.
func LoadReader(r io.Reader) (*Hierarchy, *Mapper, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, autherr.NewConfiguration("rbac", fmt.Errorf("read roles file: %w", err))
	}

	var file RolesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, autherr.NewConfiguration("rbac", fmt.Errorf("parse roles file: %w", err))
	}

	if len(file.Roles) == 0 {
		return nil, nil, autherr.NewConfiguration("rbac", fmt.Errorf("no roles defined"))
	}

	hierarchy, err := NewHierarchy(file.Roles)
	if err != nil {
		return nil, nil, err
	}

	defaultRole := file.DefaultRole
	if defaultRole == "" {
		defaultRole = DefaultRole
	}
	if !hierarchy.HasRole(defaultRole) {
		return nil, nil, autherr.NewConfiguration("rbac",
			fmt.Errorf("default role %q is not defined", defaultRole))
	}
	for i, mapping := range file.Mappings {
		if mapping.External == "" {
			return nil, nil, autherr.NewConfiguration("rbac",
				fmt.Errorf("mapping at index %d has no external name", i))
		}
		if !hierarchy.HasRole(mapping.Role) {
			return nil, nil, autherr.NewConfiguration("rbac",
				fmt.Errorf("mapping %q points at undefined role %q", mapping.External, mapping.Role))
		}
	}

	return hierarchy, NewMapper(hierarchy, file.Mappings, defaultRole), nil
}
