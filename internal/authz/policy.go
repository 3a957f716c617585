package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Operation names a handler-level action, e.g. "building.create".
type Operation string

// Policy maps operations to the roles allowed to perform them. Declarations are
// made once at handler registration; lookups are concurrent-safe.
type Policy struct {
	mu  sync.RWMutex
	ops map[Operation][]Role
}

func NewPolicy() *Policy {
	return &Policy{ops: make(map[Operation][]Role)}
}

// Register declares the roles for op. An empty role list declares op as
// unrestricted. Registering the same operation twice fails.
func (p *Policy) Register(op Operation, roles ...Role) error {
	name := Operation(strings.TrimSpace(string(op)))
	if name == "" {
		return fmt.Errorf("%w: operation name is required", ErrInvalidInput)
	}
	for _, r := range roles {
		if !r.Valid() {
			return fmt.Errorf("%w: unknown role %q for %s", ErrInvalidInput, r, name)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ops[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, name)
	}
	p.ops[name] = dedupeRoles(roles)
	return nil
}

// MustRegister is Register for static tables; it panics on error.
func (p *Policy) MustRegister(op Operation, roles ...Role) {
	if err := p.Register(op, roles...); err != nil {
		panic(err)
	}
}

// Required returns the declared roles for op. Undeclared operations yield
// ErrUnregisteredOperation instead of silently allowing everyone.
func (p *Policy) Required(op Operation) ([]Role, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	roles, ok := p.ops[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredOperation, op)
	}
	out := make([]Role, len(roles))
	copy(out, roles)
	return out, nil
}

// Request builds the engine request for op against tenant.
func (p *Policy) Request(op Operation, tenant string) (Request, error) {
	roles, err := p.Required(op)
	if err != nil {
		return Request{}, err
	}
	return Request{Required: roles, Tenant: strings.TrimSpace(tenant)}, nil
}

// Operations lists registered operations in name order.
func (p *Policy) Operations() []Operation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Operation, 0, len(p.ops))
	for op := range p.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupeRoles(roles []Role) []Role {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
