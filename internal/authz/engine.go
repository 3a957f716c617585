package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoBindings       Reason = "NO_BINDINGS"
	ReasonInsufficientRole Reason = "INSUFFICIENT_ROLE"
	ReasonTenantMismatch   Reason = "TENANT_MISMATCH"
)

// Request is what an operation asks of the engine: the roles it accepts and,
// for tenant-scoped operations, the target building.
type Request struct {
	Required []Role
	Tenant   string
}

// Decision is the engine verdict. On allow, Matched holds the actor bindings
// whose role satisfied the request, sorted by (role, tenant, id).
type Decision struct {
	Allowed bool
	Reason  Reason
	Matched []RoleBinding
}

// Err returns nil on allow and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// Global reports whether any matched binding is global. Callers use it to
// skip tenant filtering of list queries.
func (d Decision) Global() bool {
	for _, b := range d.Matched {
		if b.Scope.IsGlobal() {
			return true
		}
	}
	return false
}

// TenantIDs lists the distinct tenants covered by scoped matched bindings.
func (d Decision) TenantIDs() []string {
	seen := make(map[string]struct{}, len(d.Matched))
	var out []string
	for _, b := range d.Matched {
		if b.Scope.IsGlobal() {
			continue
		}
		if _, ok := seen[b.Scope.TenantID()]; ok {
			continue
		}
		seen[b.Scope.TenantID()] = struct{}{}
		out = append(out, b.Scope.TenantID())
	}
	sort.Strings(out)
	return out
}

// ScopeMode selects how binding scopes relate to the target tenant.
type ScopeMode int

const (
	// ScopeIgnore matches on role name alone; a BUILDING_ADMIN of one building
	// passes the role check for another. Callers narrow results by scope.
	ScopeIgnore ScopeMode = iota
	// ScopeEnforce additionally requires a matching binding to be global or
	// scoped to the request's tenant.
	ScopeEnforce
)

func (m ScopeMode) String() string {
	if m == ScopeEnforce {
		return "enforce"
	}
	return "ignore"
}

// ParseScopeMode accepts "ignore" (or empty) and "enforce".
func ParseScopeMode(s string) (ScopeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return ScopeIgnore, nil
	case "enforce":
		return ScopeEnforce, nil
	}
	return ScopeIgnore, fmt.Errorf("%w: unknown scope mode %q", ErrInvalidInput, s)
}

// Engine decides authorization requests. It holds configuration only and is
// safe for concurrent use.
type Engine struct {
	scope ScopeMode
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithScopeMode sets how binding scopes are checked against the target tenant.
func WithScopeMode(mode ScopeMode) EngineOption {
	return func(e *Engine) { e.scope = mode }
}

// WithScopeEnforcement is shorthand for WithScopeMode(ScopeEnforce).
func WithScopeEnforcement() EngineOption {
	return WithScopeMode(ScopeEnforce)
}

// NewEngine returns an engine with scope-blind matching unless configured otherwise.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{scope: ScopeIgnore}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScopeMode reports the configured scope mode.
func (e *Engine) ScopeMode() ScopeMode { return e.scope }

// Decide evaluates req for actor. The result depends only on the actor's
// bindings, the request and the engine configuration.
func (e *Engine) Decide(actor Actor, req Request) Decision {
	if len(req.Required) == 0 {
		return Decision{Allowed: true}
	}
	if len(actor.bindings) == 0 {
		return Decision{Reason: ReasonNoBindings}
	}

	required := make(map[Role]struct{}, len(req.Required))
	for _, r := range req.Required {
		required[r] = struct{}{}
	}
	var matched []RoleBinding
	for _, b := range actor.bindings {
		if _, ok := required[b.Role]; ok {
			matched = append(matched, b)
		}
	}
	if len(matched) == 0 {
		return Decision{Reason: ReasonInsufficientRole}
	}

	if e != nil && e.scope == ScopeEnforce && req.Tenant != "" {
		inScope := matched[:0:0]
		for _, b := range matched {
			if b.Scope.Covers(req.Tenant) {
				inScope = append(inScope, b)
			}
		}
		if len(inScope) == 0 {
			return Decision{Reason: ReasonTenantMismatch}
		}
		matched = inScope
	}

	sortBindings(matched)
	return Decision{Allowed: true, Matched: matched}
}

func sortBindings(bs []RoleBinding) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Role != bs[j].Role {
			return bs[i].Role < bs[j].Role
		}
		if bs[i].Scope.TenantID() != bs[j].Scope.TenantID() {
			return bs[i].Scope.TenantID() < bs[j].Scope.TenantID()
		}
		if bs[i].ID != bs[j].ID {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].UserID < bs[j].UserID
	})
}
