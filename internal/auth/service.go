package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"estatly.org/internal/audit"
	"estatly.org/internal/authz"
	"estatly.org/internal/ids"
	"estatly.org/internal/mutation"
	"estatly.org/internal/obs"
)

const (
	OpLogin        authz.Operation = "auth.login"
	OpUserCreate   authz.Operation = "user.create"
	OpBindingGrant authz.Operation = "role_binding.grant"
	OpBindingList  authz.Operation = "role_binding.list"
	OpBindingDrop  authz.Operation = "role_binding.revoke"

	KindUser    = "user"
	KindBinding = "role_binding"
)

// RegisterOperations declares the account and binding operations on p.
func RegisterOperations(p *authz.Policy) error {
	table := []struct {
		op    authz.Operation
		roles []authz.Role
	}{
		{OpLogin, nil},
		{OpUserCreate, []authz.Role{authz.RoleSuperAdmin}},
		{OpBindingGrant, []authz.Role{authz.RoleSuperAdmin}},
		{OpBindingList, []authz.Role{authz.RoleSuperAdmin}},
		{OpBindingDrop, []authz.Role{authz.RoleSuperAdmin}},
	}
	for _, row := range table {
		if err := p.Register(row.op, row.roles...); err != nil {
			return err
		}
	}
	return nil
}

// Tenants confirms that a building exists before a scoped binding names it.
type Tenants interface {
	CheckTenant(ctx context.Context, tenantID string) error
}

// TenantsFunc adapts a function to Tenants.
type TenantsFunc func(ctx context.Context, tenantID string) error

func (f TenantsFunc) CheckTenant(ctx context.Context, tenantID string) error { return f(ctx, tenantID) }

// Service verifies credentials, builds actors and provisions bindings.
type Service struct {
	users    UserStore
	bindings authz.BindingStore
	tenants  Tenants
	tokens   *Tokens
	w        *mutation.Wrapper
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTenants makes GrantRole reject scopes naming unknown buildings.
// Without it any tenant id is accepted.
func WithTenants(t Tenants) ServiceOption {
	return func(s *Service) { s.tenants = t }
}

func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService registers the account operations on the wrapper's policy.
func NewService(users UserStore, bindings authz.BindingStore, tokens *Tokens, w *mutation.Wrapper, opts ...ServiceOption) (*Service, error) {
	if users == nil || bindings == nil || tokens == nil || w == nil {
		return nil, errors.New("auth: users, bindings, tokens and wrapper are required")
	}
	if err := RegisterOperations(w.Policy()); err != nil {
		return nil, err
	}
	s := &Service{
		users:    users,
		bindings: bindings,
		tokens:   tokens,
		w:        w,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func redactUser(u User) any { return u.Public() }

// Login verifies the password, issues a token and records a LOGIN entry.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.ResolveLogger(s.logger).InfoContext(ctx, "login_failed", slog.String("user_id", user.ID))
		return Session{}, err
	}
	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Session{}, err
	}

	actor := authz.NewActor(user.ID, user.Email, nil)
	logged, err := mutation.Run(ctx, s.w, actor, mutation.Op[User]{
		Operation:  OpLogin,
		Action:     audit.ActionLogin,
		EntityKind: KindUser,
		Apply:      func(context.Context, *User) (User, error) { return user, nil },
		EntityID:   func(u User) string { return u.ID },
		Redact:     redactUser,
		Metadata:   map[string]string{"token_expires_at": expires.Format(time.RFC3339)},
	})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: logged.Public()}, nil
}

// Authenticate turns a bearer token into the request's actor.
func (s *Service) Authenticate(ctx context.Context, token string) (authz.Actor, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return authz.Actor{}, fmt.Errorf("%w: %v", authz.ErrUnauthenticated, err)
	}
	user, err := s.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return authz.Actor{}, fmt.Errorf("%w: unknown subject", authz.ErrUnauthenticated)
	}
	if err != nil {
		return authz.Actor{}, err
	}
	return authz.LoadActor(ctx, s.bindings, user.ID, user.Email)
}

// CreateUser adds an account. Only SUPER_ADMIN may call it.
func (s *Service) CreateUser(ctx context.Context, actor authz.Actor, email, password string) (User, error) {
	u, err := s.newUser(email, password)
	if err != nil {
		return User{}, err
	}
	created, err := mutation.Run(ctx, s.w, actor, s.createUserOp(u))
	if err != nil {
		return User{}, err
	}
	return created.Public(), nil
}

func (s *Service) newUser(email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	now := s.now()
	return User{ID: s.newID(), Email: email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Service) createUserOp(u User) mutation.Op[User] {
	return mutation.Op[User]{
		Operation:  OpUserCreate,
		Action:     audit.ActionCreate,
		EntityKind: KindUser,
		Apply: func(ctx context.Context, _ *User) (User, error) {
			return s.users.CreateUser(ctx, u)
		},
		EntityID: func(u User) string { return u.ID },
		Redact:   redactUser,
	}
}

// ProvisionSuperAdmin makes sure the account exists and holds a global
// SUPER_ADMIN binding. It is safe to run on every start.
func (s *Service) ProvisionSuperAdmin(ctx context.Context, email, password string) (User, authz.RoleBinding, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		u, nerr := s.newUser(email, password)
		if nerr != nil {
			return User{}, authz.RoleBinding{}, nerr
		}
		user, err = mutation.RunInternal(ctx, s.w, s.createUserOp(u))
		if errors.Is(err, ErrAlreadyExists) {
			user, err = s.users.GetUserByEmail(ctx, u.Email)
		}
	}
	if err != nil {
		return User{}, authz.RoleBinding{}, err
	}

	existing, err := s.bindings.FindExisting(ctx, user.ID, authz.RoleSuperAdmin, authz.GlobalScope())
	if err == nil {
		return user.Public(), existing, nil
	}
	if !errors.Is(err, authz.ErrNotFound) {
		return User{}, authz.RoleBinding{}, err
	}
	binding, err := mutation.RunInternal(ctx, s.w, mutation.Op[authz.RoleBinding]{
		Operation:  OpBindingGrant,
		Action:     audit.ActionCreate,
		EntityKind: KindBinding,
		Apply: func(ctx context.Context, _ *authz.RoleBinding) (authz.RoleBinding, error) {
			b, created, err := authz.EnsureBinding(ctx, s.bindings, user.ID, authz.RoleSuperAdmin, authz.GlobalScope())
			if err == nil && !created {
				return b, mutation.ErrNoChange
			}
			return b, err
		},
		EntityID: func(b authz.RoleBinding) string { return b.ID },
	})
	if err != nil {
		return User{}, authz.RoleBinding{}, err
	}
	return user.Public(), binding, nil
}

// GrantRole binds role to the user in scope.
func (s *Service) GrantRole(ctx context.Context, actor authz.Actor, userID string, role authz.Role, scope authz.Scope) (authz.RoleBinding, error) {
	userID = strings.TrimSpace(userID)
	b, err := authz.ValidateBinding(authz.RoleBinding{UserID: userID, Role: role, Scope: scope})
	if err != nil {
		return authz.RoleBinding{}, err
	}
	return mutation.Run(ctx, s.w, actor, mutation.Op[authz.RoleBinding]{
		Operation:  OpBindingGrant,
		Action:     audit.ActionCreate,
		EntityKind: KindBinding,
		Tenant:     b.TenantID(),
		Apply: func(ctx context.Context, _ *authz.RoleBinding) (authz.RoleBinding, error) {
			if _, err := s.users.GetUser(ctx, b.UserID); err != nil {
				return authz.RoleBinding{}, err
			}
			if !b.Scope.IsGlobal() && s.tenants != nil {
				if err := s.tenants.CheckTenant(ctx, b.TenantID()); err != nil {
					return authz.RoleBinding{}, err
				}
			}
			return s.bindings.Create(ctx, b)
		},
		EntityID: func(b authz.RoleBinding) string { return b.ID },
	})
}

// RevokeRole hard-deletes a binding.
func (s *Service) RevokeRole(ctx context.Context, actor authz.Actor, bindingID string) (authz.RoleBinding, error) {
	bindingID = strings.TrimSpace(bindingID)
	return mutation.Run(ctx, s.w, actor, mutation.Op[authz.RoleBinding]{
		Operation:  OpBindingDrop,
		Action:     audit.ActionDelete,
		EntityKind: KindBinding,
		TenantFunc: func(ctx context.Context) (string, error) {
			b, err := s.bindings.Get(ctx, bindingID)
			return b.TenantID(), err
		},
		Load: func(ctx context.Context) (authz.RoleBinding, error) { return s.bindings.Get(ctx, bindingID) },
		Apply: func(ctx context.Context, _ *authz.RoleBinding) (authz.RoleBinding, error) {
			return s.bindings.Revoke(ctx, bindingID)
		},
		EntityID: func(b authz.RoleBinding) string { return b.ID },
	})
}

// Bindings lists a user's bindings for administrators.
func (s *Service) Bindings(ctx context.Context, actor authz.Actor, userID string) ([]authz.RoleBinding, error) {
	if _, err := s.w.Authorize(ctx, actor, OpBindingList, ""); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.bindings.BindingsFor(ctx, userID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
