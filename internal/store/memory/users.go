package memory

import (
	"context"
	"fmt"
	"strings"

	"estatly.org/internal/auth"
)

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := s.with(ctx, func(st *state) error {
		for _, existing := range st.users {
			if existing.Email == u.Email {
				return fmt.Errorf("%w: email %s", auth.ErrAlreadyExists, u.Email)
			}
		}
		if u.ID == "" {
			u.ID = s.newID()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = s.now()
			u.UpdatedAt = u.CreatedAt
		}
		st.users[u.ID] = u
		return nil
	})
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	var out auth.User
	err := s.with(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
		}
		out = u
		return nil
	})
	return out, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var out auth.User
	err := s.with(ctx, func(st *state) error {
		for _, u := range st.users {
			if u.Email == email {
				out = u
				return nil
			}
		}
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, email)
	})
	return out, err
}
