package pg

import (
	"context"
	"strings"
	"time"

	"estatly.org/internal/auth"
	"estatly.org/internal/ids"
)

const userColumns = `id, email, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	out, err := scanUser(s.conn(ctx).QueryRowContext(ctx, `
		insert into users (id, email, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
		returning `+userColumns,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.CreatedAt, u.UpdatedAt))
	if err != nil {
		return auth.User{}, translate(err, auth.ErrAlreadyExists, auth.ErrNotFound)
	}
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	u, err := scanUser(s.conn(ctx).QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return auth.User{}, translate(err, auth.ErrAlreadyExists, auth.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.conn(ctx).QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return auth.User{}, translate(err, auth.ErrAlreadyExists, auth.ErrNotFound)
	}
	return u, nil
}
