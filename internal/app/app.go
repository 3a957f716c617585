// Package app assembles the services from configuration and a storage
// backend. Both the API server and the seeding tool start from here.
package app

import (
	"context"
	"errors"
	"log/slog"

	"estatly.org/internal/audit"
	"estatly.org/internal/auth"
	"estatly.org/internal/authz"
	"estatly.org/internal/config"
	"estatly.org/internal/httpapi"
	"estatly.org/internal/mutation"
	"estatly.org/internal/obs"
	"estatly.org/internal/property"
)

// Backend is everything a storage implementation provides.
type Backend interface {
	authz.BindingStore
	audit.Ledger
	audit.Reader
	property.Store
	auth.UserStore
	mutation.Transactor
}

// Options are the inputs to New.
type Options struct {
	Config  config.Config
	Backend Backend
	// Bindings overrides the backend's binding store, e.g. with a cache.
	Bindings authz.BindingStore
	Logger   *slog.Logger
}

// App holds the wired services.
type App struct {
	Auth     *auth.Service
	Property *property.Service
	Audit    *audit.Query
	Feed     *audit.Feed
	Engine   *authz.Engine
	Policy   *authz.Policy
	Wrapper  *mutation.Wrapper

	dispatcher *audit.Dispatcher
}

func New(opts Options) (*App, error) {
	if opts.Backend == nil {
		return nil, errors.New("app: backend is required")
	}
	cfg := opts.Config
	logger := obs.ResolveLogger(opts.Logger)
	bindings := opts.Bindings
	if bindings == nil {
		bindings = opts.Backend
	}

	feed := audit.NewFeed(64)
	secondaries := []audit.Ledger{feed}
	if cfg.AuditLog {
		secondaries = append(secondaries, audit.NewLogLedger(logger))
	}
	ledger := audit.Tee(opts.Backend, secondaries...)

	a := &App{Feed: feed}
	if cfg.AuditAsync {
		a.dispatcher = audit.NewDispatcher(ledger,
			audit.WithQueueSize(cfg.AuditQueue),
			audit.WithWorkers(cfg.AuditWorkers),
			audit.WithWriteTimeout(cfg.AuditTimeout),
			audit.WithDispatchLogger(logger),
		)
		ledger = a.dispatcher
	}
	recorder := audit.NewRecorder(ledger, audit.WithLogger(logger), audit.WithTimeout(cfg.AuditTimeout))

	a.Engine = authz.NewEngine(authz.WithScopeMode(cfg.ScopeMode))
	a.Policy = authz.NewPolicy()
	a.Wrapper = mutation.New(a.Engine, a.Policy, opts.Backend, recorder, mutation.WithLogger(logger))

	tokens, err := auth.NewTokens(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer), auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return nil, err
	}
	tenants := auth.TenantsFunc(func(ctx context.Context, id string) error {
		return property.CheckBuilding(ctx, opts.Backend, id)
	})
	if a.Auth, err = auth.NewService(opts.Backend, bindings, tokens, a.Wrapper,
		auth.WithLogger(logger), auth.WithTenants(tenants)); err != nil {
		return nil, err
	}
	if a.Property, err = property.NewService(a.Wrapper, opts.Backend); err != nil {
		return nil, err
	}
	if err := audit.RegisterOperations(a.Policy); err != nil {
		return nil, err
	}
	a.Audit = audit.NewQuery(opts.Backend, feed, a.Wrapper)
	return a, nil
}

// Services exposes the entry points the HTTP layer needs.
func (a *App) Services() httpapi.Services {
	return httpapi.Services{Auth: a.Auth, Property: a.Property, Audit: a.Audit}
}

// Provision creates the configured super admin, if any.
func (a *App) Provision(ctx context.Context, cfg config.Config) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	_, _, err := a.Auth.ProvisionSuperAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	return err
}

// Close drains the audit queue when entries are written asynchronously.
func (a *App) Close(ctx context.Context) error {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher.Close(ctx)
}
