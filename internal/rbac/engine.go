package rbac

import (
	"slices"
	"sort"
	"strings"
)

// Engine evaluates role permissions and role levels. It is safe for
// concurrent use; its tables are copied at construction and never mutated.
type Engine struct {
	roles       map[string]RoleDefinition
	aliases     map[string]string
	defaultRole string
}

// Role is a canonical role as exposed by Engine.Roles.
type Role struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Level       int      `json:"level"`
	Permissions []string `json:"permissions"`
}

// NewEngine builds an engine from cfg. A cfg that fails validation is
// replaced by FallbackConfig.
func NewEngine(cfg Config) *Engine {
	if err := cfg.normalize(); err != nil {
		cfg = FallbackConfig()
		_ = cfg.normalize()
	}

	roles := make(map[string]RoleDefinition, len(cfg.Roles))
	for name, def := range cfg.Roles {
		def.Permissions = slices.Clone(def.Permissions)
		roles[name] = def
	}
	aliases := make(map[string]string, len(cfg.Aliases))
	for raw, target := range cfg.Aliases {
		aliases[raw] = target
	}

	return &Engine{
		roles:       roles,
		aliases:     aliases,
		defaultRole: cfg.DefaultRole,
	}
}

// NormalizeRole maps a raw role to its canonical role. Unknown roles map to
// the default, lowest-privilege role.
func (e *Engine) NormalizeRole(raw string) string {
	key := canonicalKey(raw)
	if target, ok := e.aliases[key]; ok {
		return target
	}
	if _, ok := e.roles[key]; ok {
		return key
	}
	return e.defaultRole
}

// PermissionsFor returns a copy of the permission list of the normalized role.
func (e *Engine) PermissionsFor(role string) []string {
	def, ok := e.roles[e.NormalizeRole(role)]
	if !ok {
		return nil
	}
	return slices.Clone(def.Permissions)
}

// HasPermission reports whether role grants the required permission.
//
//	HasPermission("superadmin", "anything")   // true, "*" grants everything
//	HasPermission("hr", "hr.leave.view")       // true via "hr.*"
//	HasPermission("hr", "hrx.view")            // false, prefix includes the dot
func (e *Engine) HasPermission(role, required string) bool {
	if required == "" {
		return false
	}
	def, ok := e.roles[e.NormalizeRole(role)]
	if !ok {
		return false
	}

	for _, p := range def.Permissions {
		if p == Wildcard || p == required {
			return true
		}
	}

	for _, p := range def.Permissions {
		if matchWildcard(p, required) {
			return true
		}
	}
	return false
}

// matchWildcard matches "resource.*" patterns. The prefix keeps its trailing
// dot and must carry a non-empty resource segment, so ".*" matches nothing.
func matchWildcard(pattern, required string) bool {
	if !strings.HasSuffix(pattern, ".*") || len(pattern) <= len(".*") {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "*")
	if strings.HasPrefix(prefix, ".") {
		return false
	}
	return len(required) > len(prefix) && strings.HasPrefix(required, prefix)
}

// RoleLevel returns the hierarchy level of the normalized role, 0 if unknown.
func (e *Engine) RoleLevel(role string) int {
	return e.roles[e.NormalizeRole(role)].Level
}

// CanAccessRole reports whether actor sits at or above required in the hierarchy.
func (e *Engine) CanAccessRole(actor, required string) bool {
	return e.RoleLevel(actor) >= e.RoleLevel(required)
}

// CanAssignRole reports whether actor may grant target to another account.
// Holders of "*" may assign anything; everyone else only strictly lower roles.
func (e *Engine) CanAssignRole(actor, target string) bool {
	if e.HasPermission(actor, Wildcard) {
		return true
	}
	return e.RoleLevel(actor) > e.RoleLevel(target)
}

// IsCanonical reports whether role names a configured canonical role or alias.
func (e *Engine) IsCanonical(role string) bool {
	key := canonicalKey(role)
	if _, ok := e.roles[key]; ok {
		return true
	}
	_, ok := e.aliases[key]
	return ok
}

// DefaultRole returns the role unknown raw roles normalize to.
func (e *Engine) DefaultRole() string {
	return e.defaultRole
}

// Roles lists canonical roles ordered by descending level.
func (e *Engine) Roles() []Role {
	out := make([]Role, 0, len(e.roles))
	for key, def := range e.roles {
		out = append(out, Role{
			Key:         key,
			Name:        def.Name,
			Level:       def.Level,
			Permissions: slices.Clone(def.Permissions),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Key < out[j].Key
	})
	return out
}
