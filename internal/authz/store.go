package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// BindingStore holds (user, role, scope) tuples. It is read-heavy and rarely
// written. BindingsFor returns bindings in no particular order.
type BindingStore interface {
	BindingsFor(ctx context.Context, actorID string) ([]RoleBinding, error)
	// Get returns ErrNotFound for an unknown binding id.
	Get(ctx context.Context, bindingID string) (RoleBinding, error)
	// Create inserts a binding. A collision on (user, role, scope) yields ErrConflict.
	Create(ctx context.Context, b RoleBinding) (RoleBinding, error)
	// FindExisting returns ErrNotFound when no binding has the natural key.
	FindExisting(ctx context.Context, actorID string, role Role, scope Scope) (RoleBinding, error)
	// Revoke hard-deletes a binding by id.
	Revoke(ctx context.Context, bindingID string) (RoleBinding, error)
}

// ValidateBinding checks the fields every store requires.
func ValidateBinding(b RoleBinding) (RoleBinding, error) {
	b.UserID = strings.TrimSpace(b.UserID)
	if b.UserID == "" {
		return RoleBinding{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !b.Role.Valid() {
		return RoleBinding{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, b.Role)
	}
	b.Scope = TenantScope(b.Scope.TenantID())
	return b, nil
}

// EnsureBinding creates the binding unless one with the same natural key
// exists. Two concurrent callers may both miss the lookup; the loser's insert
// conflicts and the existing binding is returned.
func EnsureBinding(ctx context.Context, store BindingStore, actorID string, role Role, scope Scope) (RoleBinding, bool, error) {
	existing, err := store.FindExisting(ctx, actorID, role, scope)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return RoleBinding{}, false, err
	}
	created, err := store.Create(ctx, RoleBinding{UserID: actorID, Role: role, Scope: scope})
	if errors.Is(err, ErrConflict) {
		existing, err = store.FindExisting(ctx, actorID, role, scope)
		if err != nil {
			return RoleBinding{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return RoleBinding{}, false, err
	}
	return created, true, nil
}

// LoadActor reconstructs the actor for one request from the binding store.
func LoadActor(ctx context.Context, store BindingStore, id, email string) (Actor, error) {
	bindings, err := store.BindingsFor(ctx, id)
	if err != nil {
		return Actor{}, err
	}
	return NewActor(id, email, bindings), nil
}
