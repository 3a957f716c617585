package authz

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func binding(id string, role Role, tenant string) RoleBinding {
	return RoleBinding{ID: id, UserID: "u1", Role: role, Scope: TenantScope(tenant)}
}

var adminRoles = []Role{RoleSuperAdmin, RoleBuildingAdmin}

func TestDecideEmptyRequirementAllows(t *testing.T) {
	engine := NewEngine()
	actors := []Actor{
		NewActor("", "", nil),
		NewActor("u1", "a@example.com", nil),
		NewActor("u1", "a@example.com", []RoleBinding{binding("b1", RoleReadOnly, "B1")}),
	}
	for _, actor := range actors {
		for _, tenant := range []string{"", "B1", "B2"} {
			d := engine.Decide(actor, Request{Tenant: tenant})
			if !d.Allowed || d.Err() != nil {
				t.Fatalf("expected allow for empty requirement, got %+v", d)
			}
		}
	}
}

func TestDecideNoBindings(t *testing.T) {
	engine := NewEngine()
	d := engine.Decide(NewActor("u1", "a@example.com", nil), Request{Required: []Role{RoleReadOnly}, Tenant: "B1"})
	if d.Allowed || d.Reason != ReasonNoBindings {
		t.Fatalf("expected NO_BINDINGS, got %+v", d)
	}
	err := d.Err()
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if reason, ok := DenialReason(err); !ok || reason != ReasonNoBindings {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestDecideInsufficientRole(t *testing.T) {
	engine := NewEngine()
	actor := NewActor("u1", "a@example.com", []RoleBinding{binding("b1", RoleReadOnly, "B1")})
	d := engine.Decide(actor, Request{Required: adminRoles, Tenant: "B1"})
	if d.Allowed || d.Reason != ReasonInsufficientRole {
		t.Fatalf("expected INSUFFICIENT_ROLE, got %+v", d)
	}
}

func TestDecideScopeBlindByDefault(t *testing.T) {
	engine := NewEngine()
	actor := NewActor("u1", "a@example.com", []RoleBinding{binding("b1", RoleBuildingAdmin, "B1")})
	d := engine.Decide(actor, Request{Required: adminRoles, Tenant: "B2"})
	if !d.Allowed {
		t.Fatalf("expected allow regardless of scope, got %+v", d)
	}
	if len(d.Matched) != 1 || d.Matched[0].ID != "b1" {
		t.Fatalf("expected matched binding b1, got %+v", d.Matched)
	}
	if d.Global() {
		t.Fatalf("scoped binding reported as global")
	}
	if got := d.TenantIDs(); !reflect.DeepEqual(got, []string{"B1"}) {
		t.Fatalf("unexpected tenants %v", got)
	}
}

func TestDecideHonoursStoredScopeOfSuperAdmin(t *testing.T) {
	engine := NewEngine(WithScopeEnforcement())
	actor := NewActor("u1", "a@example.com", []RoleBinding{binding("b1", RoleSuperAdmin, "B1")})
	d := engine.Decide(actor, Request{Required: []Role{RoleSuperAdmin}, Tenant: "B2"})
	if d.Allowed || d.Reason != ReasonTenantMismatch {
		t.Fatalf("expected TENANT_MISMATCH for scoped super admin, got %+v", d)
	}
}

func TestDecideScopeEnforcement(t *testing.T) {
	engine := NewEngine(WithScopeEnforcement())
	actor := NewActor("u1", "a@example.com", []RoleBinding{
		binding("b1", RoleBuildingAdmin, "B1"),
		binding("b2", RoleReadOnly, "B2"),
	})

	if d := engine.Decide(actor, Request{Required: adminRoles, Tenant: "B2"}); d.Allowed || d.Reason != ReasonTenantMismatch {
		t.Fatalf("expected TENANT_MISMATCH, got %+v", d)
	}
	if d := engine.Decide(actor, Request{Required: adminRoles, Tenant: "B1"}); !d.Allowed {
		t.Fatalf("expected allow in own tenant, got %+v", d)
	}
	if d := engine.Decide(actor, Request{Required: adminRoles}); !d.Allowed {
		t.Fatalf("expected allow for tenant-agnostic request, got %+v", d)
	}

	global := NewActor("u2", "g@example.com", []RoleBinding{binding("g1", RoleSuperAdmin, "")})
	d := engine.Decide(global, Request{Required: adminRoles, Tenant: "B9"})
	if !d.Allowed || !d.Global() {
		t.Fatalf("expected global allow, got %+v", d)
	}
}

func TestDecideIsPureAndOrderIndependent(t *testing.T) {
	engine := NewEngine()
	bindings := []RoleBinding{
		binding("b3", RoleBuildingAdmin, "B3"),
		binding("b1", RoleBuildingAdmin, "B1"),
		binding("b2", RoleReadOnly, "B2"),
		binding("b0", RoleSuperAdmin, ""),
	}
	req := Request{Required: adminRoles, Tenant: "B2"}
	want := engine.Decide(NewActor("u1", "a@example.com", bindings), req)

	reversed := make([]RoleBinding, len(bindings))
	for i, b := range bindings {
		reversed[len(bindings)-1-i] = b
	}
	for i := 0; i < 20; i++ {
		input := bindings
		if i%2 == 1 {
			input = reversed
		}
		got := engine.Decide(NewActor("u1", "a@example.com", input), req)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("decision changed between calls: %+v != %+v", got, want)
		}
	}
	if len(want.Matched) != 3 {
		t.Fatalf("expected three matched bindings, got %+v", want.Matched)
	}
}

func TestDecideConcurrentUse(t *testing.T) {
	engine := NewEngine()
	actor := NewActor("u1", "a@example.com", []RoleBinding{binding("b1", RoleBuildingAdmin, "B1")})
	req := Request{Required: adminRoles, Tenant: "B1"}

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := engine.Decide(actor, req); !d.Allowed {
				errs <- string(d.Reason)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for reason := range errs {
		t.Fatalf("unexpected denial %s", reason)
	}
}

func TestActorBindingsAreCopied(t *testing.T) {
	src := []RoleBinding{binding("b1", RoleReadOnly, "B1")}
	actor := NewActor("u1", "A@Example.com", src)
	src[0].Role = RoleSuperAdmin
	if actor.HasRole(RoleSuperAdmin) {
		t.Fatalf("actor mutated through source slice")
	}
	got := actor.Bindings()
	got[0].Role = RoleSuperAdmin
	if actor.HasRole(RoleSuperAdmin) {
		t.Fatalf("actor mutated through accessor")
	}
	if actor.Email != "a@example.com" {
		t.Fatalf("email not normalised: %s", actor.Email)
	}
}

func TestParseScopeMode(t *testing.T) {
	if m, err := ParseScopeMode(""); err != nil || m != ScopeIgnore {
		t.Fatalf("expected ignore default, got %v %v", m, err)
	}
	if m, err := ParseScopeMode("Enforce"); err != nil || m != ScopeEnforce {
		t.Fatalf("expected enforce, got %v %v", m, err)
	}
	if _, err := ParseScopeMode("strict"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
