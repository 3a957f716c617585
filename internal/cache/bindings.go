// Package cache keeps role bindings in Redis in front of a slower store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"estatly.org/internal/authz"
	"estatly.org/internal/mutation"
	"estatly.org/internal/obs"
)

const (
	DefaultTTL    = 30 * time.Second
	DefaultPrefix = "estatly:bindings:"
)

// Bindings is a read-through authz.BindingStore. Only BindingsFor is cached;
// writes go to the underlying store and drop the actor's key once the
// surrounding mutation has committed.
// Redis failures are logged and the underlying store answers instead.
type Bindings struct {
	next   authz.BindingStore
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var _ authz.BindingStore = (*Bindings)(nil)

type Option func(*Bindings)

func WithTTL(ttl time.Duration) Option {
	return func(b *Bindings) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(b *Bindings) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bindings) { b.logger = l }
}

func NewBindings(next authz.BindingStore, client redis.UniversalClient, opts ...Option) *Bindings {
	b := &Bindings{next: next, client: client, ttl: DefaultTTL, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = obs.ResolveLogger(b.logger)
	return b
}

// NewClient builds a Redis client for addr. The caller owns Close.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("cache: redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

func (b *Bindings) key(actorID string) string { return b.prefix + actorID }

func (b *Bindings) BindingsFor(ctx context.Context, actorID string) ([]authz.RoleBinding, error) {
	raw, err := b.client.Get(ctx, b.key(actorID)).Bytes()
	switch {
	case err == nil:
		var out []authz.RoleBinding
		if err := json.Unmarshal(raw, &out); err == nil {
			obs.BindingCache.WithLabelValues("hit").Inc()
			return out, nil
		}
		b.warn("binding_cache_decode_failed", actorID, err)
		obs.BindingCache.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		obs.BindingCache.WithLabelValues("miss").Inc()
	default:
		b.warn("binding_cache_read_failed", actorID, err)
		obs.BindingCache.WithLabelValues("error").Inc()
	}

	out, err := b.next.BindingsFor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(out); err == nil {
		if err := b.client.Set(ctx, b.key(actorID), payload, b.ttl).Err(); err != nil {
			b.warn("binding_cache_write_failed", actorID, err)
		}
	}
	return out, nil
}

func (b *Bindings) Get(ctx context.Context, bindingID string) (authz.RoleBinding, error) {
	return b.next.Get(ctx, bindingID)
}

func (b *Bindings) FindExisting(ctx context.Context, actorID string, role authz.Role, scope authz.Scope) (authz.RoleBinding, error) {
	return b.next.FindExisting(ctx, actorID, role, scope)
}

func (b *Bindings) Create(ctx context.Context, rb authz.RoleBinding) (authz.RoleBinding, error) {
	out, err := b.next.Create(ctx, rb)
	if err != nil {
		return authz.RoleBinding{}, err
	}
	b.invalidateAfterCommit(ctx, out.UserID)
	return out, nil
}

func (b *Bindings) Revoke(ctx context.Context, bindingID string) (authz.RoleBinding, error) {
	out, err := b.next.Revoke(ctx, bindingID)
	if err != nil {
		return authz.RoleBinding{}, err
	}
	b.invalidateAfterCommit(ctx, out.UserID)
	return out, nil
}

// Invalidate drops the cached bindings of actorID.
func (b *Bindings) Invalidate(ctx context.Context, actorID string) {
	b.invalidate(ctx, actorID)
}

// invalidateAfterCommit defers the delete until the change is visible to
// other readers. A read that re-caches the old rows before the commit is
// wiped by it.
func (b *Bindings) invalidateAfterCommit(ctx context.Context, actorID string) {
	mutation.AfterCommit(ctx, func(ctx context.Context) { b.invalidate(ctx, actorID) })
}

func (b *Bindings) invalidate(ctx context.Context, actorID string) {
	if err := b.client.Del(context.WithoutCancel(ctx), b.key(actorID)).Err(); err != nil {
		b.warn("binding_cache_invalidate_failed", actorID, err)
	}
}

func (b *Bindings) warn(event, actorID string, err error) {
	b.logger.Warn(event, slog.String("actor_id", actorID), slog.String("error", err.Error()))
}
