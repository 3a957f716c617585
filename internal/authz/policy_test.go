package authz

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPolicyRegisterAndLookup(t *testing.T) {
	p := NewPolicy()
	p.MustRegister("building.create", RoleSuperAdmin, RoleSuperAdmin)
	p.MustRegister("health.check")

	roles, err := p.Required("building.create")
	if err != nil {
		t.Fatalf("Required: %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleSuperAdmin {
		t.Fatalf("unexpected roles %v", roles)
	}

	req, err := p.Request("health.check", " B1 ")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(req.Required) != 0 || req.Tenant != "B1" {
		t.Fatalf("unexpected request %+v", req)
	}
	if d := NewEngine().Decide(NewActor("u1", "", nil), req); !d.Allowed {
		t.Fatalf("explicitly unrestricted operation should allow")
	}
}

func TestPolicyRejectsUnknownAndDuplicates(t *testing.T) {
	p := NewPolicy()
	if _, err := p.Required("missing"); !errors.Is(err, ErrUnregisteredOperation) {
		t.Fatalf("expected ErrUnregisteredOperation, got %v", err)
	}
	if err := p.Register("expense.create", RoleBuildingAdmin); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register("expense.create", RoleSuperAdmin); !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := p.Register("x", Role("OWNER")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
	if err := p.Register("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
	ops := p.Operations()
	if len(ops) != 1 || ops[0] != "expense.create" {
		t.Fatalf("unexpected operations %v", ops)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" building_admin ")
	if err != nil || r != RoleBuildingAdmin {
		t.Fatalf("unexpected %v %v", r, err)
	}
	if _, err := ParseRole("OWNER"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestBindingJSONScope(t *testing.T) {
	scoped, err := json.Marshal(RoleBinding{ID: "b1", UserID: "u1", Role: RoleBuildingAdmin, Scope: TenantScope("B1")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded RoleBinding
	if err := json.Unmarshal(scoped, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Scope.TenantID() != "B1" {
		t.Fatalf("tenant lost: %s", scoped)
	}

	global, _ := json.Marshal(RoleBinding{ID: "b2", UserID: "u1", Role: RoleSuperAdmin})
	var raw map[string]any
	_ = json.Unmarshal(global, &raw)
	if v, ok := raw["tenant_id"]; !ok || v != nil {
		t.Fatalf("expected null tenant_id, got %s", global)
	}
}
