package catalog

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/catalog.yaml
var defaults embed.FS

// Role types
const (
	TypeBusiness = "business"
	TypeAdmin    = "admin"
)

// ErrUnparsableName is returned when a permission name has no action/resource boundary
var ErrUnparsableName = errors.New("permission name has no action_resource boundary")

// PermissionDef is a declared permission
type PermissionDef struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Category    string `yaml:"category" json:"category"`
	Resource    string `yaml:"resource,omitempty" json:"resource,omitempty"`
	Action      string `yaml:"action,omitempty" json:"action,omitempty"`
	IsSystem    bool   `yaml:"is_system,omitempty" json:"is_system,omitempty"`
}

// RoleDef is a declared role and the permission names it grants
type RoleDef struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Type        string   `yaml:"type" json:"type"`
	Priority    int      `yaml:"priority" json:"priority"`
	IsDefault   bool     `yaml:"is_default,omitempty" json:"is_default,omitempty"`
	IsSystem    bool     `yaml:"is_system,omitempty" json:"is_system,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Catalog holds the permission and role catalogs. It is immutable after loading.
type Catalog struct {
	Version     string          `yaml:"version"`
	Permissions []PermissionDef `yaml:"permissions"`
	Roles       []RoleDef       `yaml:"roles"`

	permissionIndex map[string]int
	roleIndex       map[string]int
}

// Default returns the catalog embedded in the binary
func Default() (*Catalog, error) {
	data, err := defaults.ReadFile("defaults/catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded catalog: %w", err)
	}
	return Parse(data)
}

// LoadFile loads a catalog from a YAML file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Load returns the catalog at path, or the embedded default when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c.index()
	return &c, nil
}

// New builds a catalog from in-memory definitions
func New(permissions []PermissionDef, roles []RoleDef) *Catalog {
	c := &Catalog{
		Version:     "v1",
		Permissions: append([]PermissionDef(nil), permissions...),
		Roles:       append([]RoleDef(nil), roles...),
	}
	c.index()
	return c
}

func (c *Catalog) index() {
	c.permissionIndex = make(map[string]int, len(c.Permissions))
	for i, p := range c.Permissions {
		if _, dup := c.permissionIndex[p.Name]; !dup {
			c.permissionIndex[p.Name] = i
		}
	}
	c.roleIndex = make(map[string]int, len(c.Roles))
	for i, r := range c.Roles {
		if _, dup := c.roleIndex[r.Name]; !dup {
			c.roleIndex[r.Name] = i
		}
	}
}

// Permission looks up a permission by name
func (c *Catalog) Permission(name string) (PermissionDef, bool) {
	i, ok := c.permissionIndex[name]
	if !ok {
		return PermissionDef{}, false
	}
	return c.Permissions[i], true
}

// HasPermission reports whether name is declared
func (c *Catalog) HasPermission(name string) bool {
	_, ok := c.permissionIndex[name]
	return ok
}

// Role looks up a role by name
func (c *Catalog) Role(name string) (RoleDef, bool) {
	i, ok := c.roleIndex[name]
	if !ok {
		return RoleDef{}, false
	}
	return c.Roles[i], true
}

// PermissionsByCategory returns the permissions in a category, in declaration order
func (c *Catalog) PermissionsByCategory(category string) []PermissionDef {
	var out []PermissionDef
	for _, p := range c.Permissions {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.Permissions {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out
}

// PermissionNames returns every declared permission name
func (c *Catalog) PermissionNames() []string {
	names := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// TopRoles returns the system roles holding the highest system priority.
// More than one entry means the top rank is ambiguous.
func (c *Catalog) TopRoles() []RoleDef {
	var top []RoleDef
	for _, r := range c.Roles {
		if !r.IsSystem {
			continue
		}
		switch {
		case len(top) == 0 || r.Priority > top[0].Priority:
			top = []RoleDef{r}
		case r.Priority == top[0].Priority:
			top = append(top, r)
		}
	}
	return top
}

// ParsePermissionName splits name on its first underscore: the left token is
// the action, the remainder is the resource.
func ParsePermissionName(name string) (action, resource string, err error) {
	i := strings.Index(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrUnparsableName, name)
	}
	return name[:i], name[i+1:], nil
}

// ResourceAction returns the explicit resource/action of p, deriving whichever
// is missing from the name.
func (p PermissionDef) ResourceAction() (resource, action string, err error) {
	if p.Resource != "" && p.Action != "" {
		return p.Resource, p.Action, nil
	}
	a, r, err := ParsePermissionName(p.Name)
	if err != nil {
		return p.Resource, p.Action, err
	}
	if p.Resource != "" {
		r = p.Resource
	}
	if p.Action != "" {
		a = p.Action
	}
	return r, a, nil
}

// PermissionName joins an action and a resource into a permission name
func PermissionName(action, resource string) string {
	return action + "_" + resource
}
