package mutation

import (
	"context"
	"log/slog"

	"estatly.org/internal/audit"
	"estatly.org/internal/authz"
	"estatly.org/internal/obs"
)

// Stage names a step of a mutation's lifecycle. Each transition is counted
// in estatly_mutations_total.
type Stage string

const (
	StageRequested  Stage = "requested"
	StageAuthorized Stage = "authorized"
	StageApplied    Stage = "applied"
	StageAudited    Stage = "audited"
	StageCompleted  Stage = "completed"
	StageDenied     Stage = "denied"
	StageFailed     Stage = "failed"
)

// Recorder is the audit sink the wrapper submits entries to. *audit.Recorder
// satisfies it.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, bool)
}

// Wrapper applies the authorize, apply, audit template to state-changing
// operations.
type Wrapper struct {
	engine   *authz.Engine
	policy   *authz.Policy
	tx       Transactor
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Wrapper.
type Option func(*Wrapper)

func WithLogger(l *slog.Logger) Option {
	return func(w *Wrapper) { w.logger = l }
}

// New builds a wrapper. A nil transactor runs operations without a transaction.
func New(engine *authz.Engine, policy *authz.Policy, tx Transactor, recorder Recorder, opts ...Option) *Wrapper {
	if engine == nil {
		engine = authz.NewEngine()
	}
	if policy == nil {
		policy = authz.NewPolicy()
	}
	if tx == nil {
		tx = NoTx
	}
	w := &Wrapper{engine: engine, policy: policy, tx: tx, recorder: recorder}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wrapper) Policy() *authz.Policy { return w.policy }
func (w *Wrapper) Engine() *authz.Engine { return w.engine }

// Authorize checks actor against the roles declared for op. Unauthenticated
// actors never reach the engine.
func (w *Wrapper) Authorize(ctx context.Context, actor authz.Actor, op authz.Operation, tenant string) (authz.Decision, error) {
	if !actor.Authenticated() {
		obs.AuthzDecisions.WithLabelValues("deny", "UNAUTHENTICATED").Inc()
		return authz.Decision{}, authz.ErrUnauthenticated
	}
	req, err := w.policy.Request(op, tenant)
	if err != nil {
		return authz.Decision{}, err
	}
	d := w.engine.Decide(actor, req)
	if !d.Allowed {
		obs.AuthzDecisions.WithLabelValues("deny", string(d.Reason)).Inc()
		obs.ResolveLogger(w.logger).InfoContext(ctx, "authz_denied",
			slog.String("operation", string(op)),
			slog.String("actor_id", actor.ID),
			slog.String("tenant_id", req.Tenant),
			slog.String("reason", string(d.Reason)),
		)
		return d, d.Err()
	}
	obs.AuthzDecisions.WithLabelValues("allow", "").Inc()
	return d, nil
}

func (w *Wrapper) mark(op authz.Operation, stage Stage) {
	obs.Mutations.WithLabelValues(string(op), string(stage)).Inc()
}
