package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Wildcard grants every permission.
const Wildcard = "*"

// RoleDefinition describes a canonical role.
type RoleDefinition struct {
	Name        string   `json:"name"`
	Level       int      `json:"level"`
	Permissions []string `json:"permissions"`
}

// Config is the role configuration document: canonical roles, the raw-role
// alias table, and the role assigned to unknown raw roles.
type Config struct {
	Roles       map[string]RoleDefinition `json:"roles"`
	Aliases     map[string]string         `json:"role_mapping"`
	DefaultRole string                    `json:"default_role,omitempty"`
}

// FallbackConfig is the built-in table used when no usable document is available.
func FallbackConfig() Config {
	return Config{
		Roles: map[string]RoleDefinition{
			"superadmin": {Name: "Super Admin", Level: 4, Permissions: []string{Wildcard}},
			"admin":      {Name: "Admin", Level: 3, Permissions: []string{"user.*", "employee.*", "hr.*", "profile.*"}},
			"hr":         {Name: "HR Manager", Level: 2, Permissions: []string{"employee.*", "hr.*", "profile.*"}},
			"user":       {Name: "Employee", Level: 1, Permissions: []string{"profile.*"}},
		},
		Aliases: map[string]string{
			"superadmin": "superadmin",
			"admin":      "admin",
			"admin1":     "admin",
			"admin2":     "admin",
			"hr":         "hr",
			"user":       "user",
			"employee":   "user",
		},
		DefaultRole: "user",
	}
}

// ParseConfig decodes and validates a JSON role document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize lowercases keys, resolves the default role, and validates references.
func (c *Config) normalize() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("%w: no roles defined", ErrInvalidConfig)
	}

	roles := make(map[string]RoleDefinition, len(c.Roles))
	for name, def := range c.Roles {
		key := canonicalKey(name)
		if key == "" {
			return fmt.Errorf("%w: empty role name", ErrInvalidConfig)
		}
		if def.Level < 0 {
			return fmt.Errorf("%w: role %q has negative level", ErrInvalidConfig, key)
		}
		perms := make([]string, 0, len(def.Permissions))
		for _, p := range def.Permissions {
			p = strings.TrimSpace(p)
			if err := validatePermission(p); err != nil {
				return fmt.Errorf("%w: role %q: %v", ErrInvalidConfig, key, err)
			}
			perms = append(perms, p)
		}
		def.Permissions = perms
		roles[key] = def
	}

	aliases := make(map[string]string, len(c.Aliases))
	for raw, target := range c.Aliases {
		target = canonicalKey(target)
		if _, ok := roles[target]; !ok {
			return fmt.Errorf("%w: alias %q points at unknown role %q", ErrInvalidConfig, raw, target)
		}
		aliases[canonicalKey(raw)] = target
	}

	def := canonicalKey(c.DefaultRole)
	if def == "" {
		def = lowestRole(roles)
	}
	if _, ok := roles[def]; !ok {
		return fmt.Errorf("%w: default role %q is not defined", ErrInvalidConfig, def)
	}

	c.Roles = roles
	c.Aliases = aliases
	c.DefaultRole = def
	return nil
}

func validatePermission(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty permission")
	case p == Wildcard:
		return nil
	case strings.HasPrefix(p, "."):
		return fmt.Errorf("permission %q has an empty resource segment", p)
	case strings.Contains(p, ".."):
		return fmt.Errorf("permission %q has an empty segment", p)
	}
	return nil
}

func lowestRole(roles map[string]RoleDefinition) string {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	lowest := ""
	for _, name := range names {
		if lowest == "" || roles[name].Level < roles[lowest].Level {
			lowest = name
		}
	}
	return lowest
}

func canonicalKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
