package memory

import (
	"context"
	"fmt"

	"estatly.org/internal/authz"
)

func (s *Store) BindingsFor(ctx context.Context, actorID string) ([]authz.RoleBinding, error) {
	var out []authz.RoleBinding
	err := s.with(ctx, func(st *state) error {
		for _, b := range st.bindings {
			if b.UserID == actorID {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) Get(ctx context.Context, bindingID string) (authz.RoleBinding, error) {
	var out authz.RoleBinding
	err := s.with(ctx, func(st *state) error {
		b, ok := st.bindings[bindingID]
		if !ok {
			return fmt.Errorf("%w: binding %s", authz.ErrNotFound, bindingID)
		}
		out = b
		return nil
	})
	return out, err
}

func (s *Store) Create(ctx context.Context, b authz.RoleBinding) (authz.RoleBinding, error) {
	b, err := authz.ValidateBinding(b)
	if err != nil {
		return authz.RoleBinding{}, err
	}
	err = s.with(ctx, func(st *state) error {
		for _, existing := range st.bindings {
			if existing.SameKey(b) {
				return fmt.Errorf("%w: %s %s %s", authz.ErrConflict, b.UserID, b.Role, b.Scope)
			}
		}
		if b.ID == "" {
			b.ID = s.newID()
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = s.now()
		}
		st.bindings[b.ID] = b
		return nil
	})
	if err != nil {
		return authz.RoleBinding{}, err
	}
	return b, nil
}

func (s *Store) FindExisting(ctx context.Context, actorID string, role authz.Role, scope authz.Scope) (authz.RoleBinding, error) {
	key := authz.RoleBinding{UserID: actorID, Role: role, Scope: scope}
	var out authz.RoleBinding
	err := s.with(ctx, func(st *state) error {
		for _, b := range st.bindings {
			if b.SameKey(key) {
				out = b
				return nil
			}
		}
		return authz.ErrNotFound
	})
	return out, err
}

func (s *Store) Revoke(ctx context.Context, bindingID string) (authz.RoleBinding, error) {
	var out authz.RoleBinding
	err := s.with(ctx, func(st *state) error {
		b, ok := st.bindings[bindingID]
		if !ok {
			return fmt.Errorf("%w: binding %s", authz.ErrNotFound, bindingID)
		}
		delete(st.bindings, bindingID)
		out = b
		return nil
	})
	return out, err
}
