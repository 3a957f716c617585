package property

import (
	"context"
	"fmt"
	"time"

	"estatly.org/internal/audit"
	"estatly.org/internal/authz"
	"estatly.org/internal/mutation"
)

// resource binds one entity type to its store functions so that get, update
// and delete share a single implementation.
type resource[T any] struct {
	kind     string
	getOp    authz.Operation
	updateOp authz.Operation
	deleteOp authz.Operation

	get    func(ctx context.Context, id string) (T, error)
	lock   func(ctx context.Context, id string) (T, error)
	save   func(ctx context.Context, v T) (T, error)
	id     func(T) string
	tenant func(T) string
	status func(T) Lifecycle
	touch  func(v *T, status Lifecycle, at time.Time)
}

func (r resource[T]) fetch(ctx context.Context, s *Service, actor authz.Actor, id string) (T, error) {
	var zero T
	scope, err := s.readScope(ctx, actor, r.getOp, "")
	if err != nil {
		return zero, err
	}
	v, err := r.get(ctx, id)
	if err != nil {
		return zero, err
	}
	if !scope.Visible(r.tenant(v), Active()) {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, r.kind, id)
	}
	return v, nil
}

func (r resource[T]) tenantOf(id string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		v, err := r.get(ctx, id)
		if err != nil {
			return "", err
		}
		return r.tenant(v), nil
	}
}

func (r resource[T]) modify(ctx context.Context, s *Service, actor authz.Actor, id string, change func(*T) error) (T, error) {
	return mutation.Run(ctx, s.w, actor, mutation.Op[T]{
		Operation:  r.updateOp,
		Action:     audit.ActionUpdate,
		EntityKind: r.kind,
		TenantFunc: r.tenantOf(id),
		Load:       func(ctx context.Context) (T, error) { return r.lock(ctx, id) },
		Apply: func(ctx context.Context, before *T) (T, error) {
			var zero T
			if r.status(*before).Deleted() {
				return zero, fmt.Errorf("%w: %s %s is deleted", ErrConflict, r.kind, id)
			}
			next := *before
			if err := change(&next); err != nil {
				return zero, err
			}
			r.touch(&next, r.status(next), s.now())
			return r.save(ctx, next)
		},
		EntityID: r.id,
	})
}

func (r resource[T]) remove(ctx context.Context, s *Service, actor authz.Actor, id string) (T, error) {
	return mutation.Run(ctx, s.w, actor, mutation.Op[T]{
		Operation:  r.deleteOp,
		Action:     audit.ActionDelete,
		EntityKind: r.kind,
		TenantFunc: r.tenantOf(id),
		Load:       func(ctx context.Context) (T, error) { return r.lock(ctx, id) },
		Apply: func(ctx context.Context, before *T) (T, error) {
			var zero T
			if r.status(*before).Deleted() {
				return zero, fmt.Errorf("%w: %s %s already deleted", ErrConflict, r.kind, id)
			}
			next := *before
			now := s.now()
			r.touch(&next, DeletedAt(now), now)
			return r.save(ctx, next)
		},
		EntityID: r.id,
	})
}
