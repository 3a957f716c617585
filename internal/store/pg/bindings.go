package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"estatly.org/internal/authz"
	"estatly.org/internal/ids"
)

const bindingColumns = `id, user_id, role, tenant_id, created_at`

func scanBinding(row interface{ Scan(...any) error }) (authz.RoleBinding, error) {
	var (
		b      authz.RoleBinding
		role   string
		tenant sql.NullString
	)
	if err := row.Scan(&b.ID, &b.UserID, &role, &tenant, &b.CreatedAt); err != nil {
		return authz.RoleBinding{}, err
	}
	b.Role = authz.Role(role)
	b.Scope = authz.TenantScope(tenant.String)
	return b, nil
}

func (s *Store) BindingsFor(ctx context.Context, actorID string) ([]authz.RoleBinding, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `select `+bindingColumns+` from role_bindings where user_id = $1`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []authz.RoleBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, bindingID string) (authz.RoleBinding, error) {
	b, err := scanBinding(s.conn(ctx).QueryRowContext(ctx, `select `+bindingColumns+` from role_bindings where id = $1`, bindingID))
	if err != nil {
		return authz.RoleBinding{}, translate(err, authz.ErrConflict, authz.ErrNotFound)
	}
	return b, nil
}

func (s *Store) Create(ctx context.Context, b authz.RoleBinding) (authz.RoleBinding, error) {
	b, err := authz.ValidateBinding(b)
	if err != nil {
		return authz.RoleBinding{}, err
	}
	if b.ID == "" {
		b.ID = ids.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	// A natural-key clash returns no row instead of raising 23505, so the
	// surrounding transaction stays usable for the caller's re-read.
	out, err := scanBinding(s.conn(ctx).QueryRowContext(ctx, `
		insert into role_bindings (id, user_id, role, tenant_id, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict do nothing
		returning `+bindingColumns,
		b.ID, b.UserID, string(b.Role), nullIfEmpty(b.TenantID()), b.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return authz.RoleBinding{}, fmt.Errorf("create binding: %w: %s already holds %s in %s", authz.ErrConflict, b.UserID, b.Role, b.Scope)
	}
	if err != nil {
		return authz.RoleBinding{}, fmt.Errorf("create binding: %w", translate(err, authz.ErrConflict, authz.ErrNotFound))
	}
	return out, nil
}

func (s *Store) FindExisting(ctx context.Context, actorID string, role authz.Role, scope authz.Scope) (authz.RoleBinding, error) {
	b, err := scanBinding(s.conn(ctx).QueryRowContext(ctx, `
		select `+bindingColumns+` from role_bindings
		where user_id = $1 and role = $2 and coalesce(tenant_id, '') = $3
	`, actorID, string(role), scope.TenantID()))
	if err != nil {
		return authz.RoleBinding{}, translate(err, authz.ErrConflict, authz.ErrNotFound)
	}
	return b, nil
}

func (s *Store) Revoke(ctx context.Context, bindingID string) (authz.RoleBinding, error) {
	b, err := scanBinding(s.conn(ctx).QueryRowContext(ctx, `delete from role_bindings where id = $1 returning `+bindingColumns, bindingID))
	if err != nil {
		return authz.RoleBinding{}, translate(err, authz.ErrConflict, authz.ErrNotFound)
	}
	return b, nil
}
