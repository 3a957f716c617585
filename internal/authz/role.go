package authz

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is one of a closed set of role names. Adding a role is a schema change.
type Role string

const (
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleBuildingAdmin Role = "BUILDING_ADMIN"
	RoleReadOnly      Role = "READ_ONLY"
)

// AllRoles lists every known role.
var AllRoles = []Role{RoleSuperAdmin, RoleBuildingAdmin, RoleReadOnly}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleBuildingAdmin, RoleReadOnly:
		return true
	}
	return false
}

// ParseRole normalises s and rejects unknown role names.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Scope is either global or a single tenant (building id). The zero value is global.
type Scope struct {
	tenantID string
}

// GlobalScope applies across all tenants.
func GlobalScope() Scope { return Scope{} }

// TenantScope restricts a binding to one building. An empty id yields the global scope.
func TenantScope(tenantID string) Scope {
	return Scope{tenantID: strings.TrimSpace(tenantID)}
}

func (s Scope) IsGlobal() bool   { return s.tenantID == "" }
func (s Scope) TenantID() string { return s.tenantID }

// Covers reports whether the scope includes tenantID. Global covers everything.
func (s Scope) Covers(tenantID string) bool {
	return s.IsGlobal() || s.tenantID == tenantID
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return s.tenantID
}

// MarshalJSON encodes the global scope as null and a tenant scope as its id.
func (s Scope) MarshalJSON() ([]byte, error) {
	if s.IsGlobal() {
		return []byte("null"), nil
	}
	return json.Marshal(s.tenantID)
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = GlobalScope()
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*s = TenantScope(id)
	return nil
}

// RoleBinding grants a role to a user in a scope. Bindings are never updated
// in place; revocation deletes them.
type RoleBinding struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Scope     Scope     `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantID exposes the scope for serialization; empty means global.
func (b RoleBinding) TenantID() string { return b.Scope.TenantID() }

// SameKey reports whether both bindings share the natural key (user, role, scope).
func (b RoleBinding) SameKey(o RoleBinding) bool {
	return b.UserID == o.UserID && b.Role == o.Role && b.Scope == o.Scope
}
