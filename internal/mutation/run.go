package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"estatly.org/internal/audit"
	"estatly.org/internal/authz"
	"estatly.org/internal/obs"
)

// ErrNoChange is returned by Apply, together with the current entity, when
// there was nothing to change. The call succeeds and no entry is recorded.
var ErrNoChange = errors.New("mutation: no change")

// Op describes one state-changing operation on an entity of type T.
type Op[T any] struct {
	Operation  authz.Operation
	Action     audit.Action
	EntityKind string

	// Tenant is the target building. TenantFunc, when set, resolves it
	// lazily and is consulted only when the engine enforces scopes.
	Tenant     string
	TenantFunc func(ctx context.Context) (string, error)

	// Load reads the pre-image inside the transaction. It is required for
	// UPDATE and DELETE and ignored for CREATE.
	Load func(ctx context.Context) (T, error)
	// Apply performs the change inside the transaction and returns the
	// entity as stored afterwards.
	Apply func(ctx context.Context, before *T) (T, error)
	// EntityID extracts the audited id from the stored entity.
	EntityID func(T) string
	// Redact shapes a snapshot before it is serialised, e.g. to drop
	// credentials. Identity when nil.
	Redact func(T) any

	Metadata map[string]string
}

// Run authorizes actor for op, applies it in one transaction and records an
// audit entry. Denials and store errors are returned unchanged and leave no
// entry; a failed audit write is logged but does not fail the call.
func Run[T any](ctx context.Context, w *Wrapper, actor authz.Actor, op Op[T]) (T, error) {
	var zero T
	if err := op.validate(); err != nil {
		return zero, err
	}
	w.mark(op.Operation, StageRequested)

	tenant, err := tenantFor(ctx, w, op)
	if err != nil {
		w.mark(op.Operation, StageFailed)
		return zero, err
	}
	if _, err := w.Authorize(ctx, actor, op.Operation, tenant); err != nil {
		w.mark(op.Operation, StageDenied)
		return zero, err
	}
	w.mark(op.Operation, StageAuthorized)
	return apply(ctx, w, audit.ActorRef(actor.ID), op)
}

// RunInternal applies op without authorization and audits it with a nil
// actor. It serves seeding and other system-initiated changes.
func RunInternal[T any](ctx context.Context, w *Wrapper, op Op[T]) (T, error) {
	var zero T
	if err := op.validate(); err != nil {
		return zero, err
	}
	w.mark(op.Operation, StageRequested)
	w.mark(op.Operation, StageAuthorized)
	return apply(ctx, w, nil, op)
}

func apply[T any](ctx context.Context, w *Wrapper, actorID *string, op Op[T]) (T, error) {
	var (
		zero      T
		before    *T
		result    T
		hasBefore bool
		unchanged bool
	)
	txCtx, committed := withCommitHooks(ctx)
	err := w.tx.InTx(txCtx, func(ctx context.Context) error {
		if op.Action != audit.ActionCreate && op.Load != nil {
			pre, err := op.Load(ctx)
			if err != nil {
				return err
			}
			before = &pre
			hasBefore = true
		}
		out, err := op.Apply(ctx, before)
		if errors.Is(err, ErrNoChange) {
			unchanged = true
			err = nil
		}
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		w.mark(op.Operation, StageFailed)
		return zero, err
	}
	committed(ctx)
	if unchanged {
		w.mark(op.Operation, StageCompleted)
		return result, nil
	}
	w.mark(op.Operation, StageApplied)

	entry := audit.Entry{
		ActorID:    actorID,
		Action:     op.Action,
		EntityKind: op.EntityKind,
		EntityID:   op.EntityID(result),
		Metadata:   copyMetadata(op.Metadata),
	}
	if entry.EntityID == "" && hasBefore {
		entry.EntityID = op.EntityID(*before)
	}
	if hasBefore {
		entry.Before = snapshot(ctx, w, op, *before)
	}
	if op.Action != audit.ActionDelete {
		entry.After = snapshot(ctx, w, op, result)
	}
	if _, ok := w.submit(ctx, entry); ok {
		w.mark(op.Operation, StageAudited)
	}
	w.mark(op.Operation, StageCompleted)
	return result, nil
}

func (w *Wrapper) submit(ctx context.Context, e audit.Entry) (audit.Entry, bool) {
	if w.recorder == nil {
		return e, false
	}
	return w.recorder.Record(ctx, e)
}

func tenantFor[T any](ctx context.Context, w *Wrapper, op Op[T]) (string, error) {
	if op.TenantFunc == nil || w.engine.ScopeMode() != authz.ScopeEnforce {
		return strings.TrimSpace(op.Tenant), nil
	}
	tenant, err := op.TenantFunc(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tenant), nil
}

func snapshot[T any](ctx context.Context, w *Wrapper, op Op[T], v T) json.RawMessage {
	var value any = v
	if op.Redact != nil {
		value = op.Redact(v)
	}
	raw, err := audit.Snapshot(value)
	if err != nil {
		// The entry is still recorded without this side.
		obs.ResolveLogger(w.logger).WarnContext(ctx, "audit_snapshot_failed",
			slog.String("operation", string(op.Operation)),
			slog.String("entity_kind", op.EntityKind),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return raw
}

func (op Op[T]) validate() error {
	switch {
	case strings.TrimSpace(string(op.Operation)) == "":
		return fmt.Errorf("%w: operation is required", authz.ErrInvalidInput)
	case op.Action == "":
		return fmt.Errorf("%w: action is required for %s", authz.ErrInvalidInput, op.Operation)
	case op.EntityKind == "":
		return fmt.Errorf("%w: entity kind is required for %s", authz.ErrInvalidInput, op.Operation)
	case op.Apply == nil || op.EntityID == nil:
		return fmt.Errorf("%w: apply and entity id are required for %s", authz.ErrInvalidInput, op.Operation)
	case (op.Action == audit.ActionUpdate || op.Action == audit.ActionDelete) && op.Load == nil:
		return fmt.Errorf("%w: %s needs a pre-image loader", authz.ErrInvalidInput, op.Operation)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
