package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"estatly.org/internal/audit"
	"estatly.org/internal/authz"
)

type counter struct {
	ID     string `json:"id"`
	Value  int    `json:"value"`
	Secret string `json:"secret,omitempty"`
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	reject  bool
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) (audit.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return e, false
	}
	f.entries = append(f.entries, e)
	return e, true
}

func (f *fakeRecorder) all() []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Entry(nil), f.entries...)
}

// lockingTx serialises transactions the way a row lock would.
type lockingTx struct {
	mu        sync.Mutex
	rollbacks int
}

func (l *lockingTx) InTx(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := fn(ctx); err != nil {
		l.rollbacks++
		return err
	}
	return nil
}

func testPolicy() *authz.Policy {
	p := authz.NewPolicy()
	p.MustRegister("counter.create", authz.RoleSuperAdmin, authz.RoleBuildingAdmin)
	p.MustRegister("counter.update", authz.RoleSuperAdmin, authz.RoleBuildingAdmin)
	p.MustRegister("counter.delete", authz.RoleSuperAdmin)
	return p
}

func admin() authz.Actor {
	return authz.NewActor("u1", "admin@example.com", []authz.RoleBinding{{ID: "b1", UserID: "u1", Role: authz.RoleBuildingAdmin, Scope: authz.TenantScope("B1")}})
}

func newWrapper(rec Recorder, opts ...authz.EngineOption) (*Wrapper, *lockingTx) {
	tx := &lockingTx{}
	return New(authz.NewEngine(opts...), testPolicy(), tx, rec), tx
}

func decode(t *testing.T, raw json.RawMessage) counter {
	t.Helper()
	var c counter
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("decode snapshot %s: %v", raw, err)
	}
	return c
}

func createOp(store map[string]counter) Op[counter] {
	return Op[counter]{
		Operation:  "counter.create",
		Action:     audit.ActionCreate,
		EntityKind: "counter",
		Tenant:     "B1",
		Apply: func(_ context.Context, _ *counter) (counter, error) {
			c := counter{ID: "c1", Value: 1}
			store[c.ID] = c
			return c, nil
		},
		EntityID: func(c counter) string { return c.ID },
	}
}

func TestRunCreateRecordsAfterOnly(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	store := map[string]counter{}

	got, err := Run(context.Background(), w, admin(), createOp(store))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("unexpected result %+v", got)
	}
	entries := rec.all()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionCreate || e.Before != nil || e.EntityID != "c1" || e.Actor() != "u1" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if decode(t, e.After) != got {
		t.Fatalf("after snapshot mismatch: %s", e.After)
	}
}

func TestRunUpdateCapturesBothSides(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	store := map[string]counter{"c1": {ID: "c1", Value: 4}}

	_, err := Run(context.Background(), w, admin(), Op[counter]{
		Operation:  "counter.update",
		Action:     audit.ActionUpdate,
		EntityKind: "counter",
		Load:       func(context.Context) (counter, error) { return store["c1"], nil },
		Apply: func(_ context.Context, before *counter) (counter, error) {
			c := *before
			c.Value++
			store[c.ID] = c
			return c, nil
		},
		EntityID: func(c counter) string { return c.ID },
		Metadata: map[string]string{"source": "test"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	e := rec.all()[0]
	if decode(t, e.Before).Value != 4 || decode(t, e.After).Value != 5 {
		t.Fatalf("unexpected snapshots before=%s after=%s", e.Before, e.After)
	}
	if e.Metadata["source"] != "test" {
		t.Fatalf("metadata lost: %+v", e.Metadata)
	}
}

func TestRunDeleteRecordsBeforeOnly(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	super := authz.NewActor("root", "", []authz.RoleBinding{{ID: "g", UserID: "root", Role: authz.RoleSuperAdmin}})
	store := map[string]counter{"c1": {ID: "c1", Value: 2}}

	_, err := Run(context.Background(), w, super, Op[counter]{
		Operation:  "counter.delete",
		Action:     audit.ActionDelete,
		EntityKind: "counter",
		Load:       func(context.Context) (counter, error) { return store["c1"], nil },
		Apply: func(_ context.Context, before *counter) (counter, error) {
			delete(store, before.ID)
			return counter{}, nil
		},
		EntityID: func(c counter) string { return c.ID },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	e := rec.all()[0]
	if e.After != nil || decode(t, e.Before).Value != 2 || e.EntityID != "c1" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestRunDenialLeavesNoTrace(t *testing.T) {
	rec := &fakeRecorder{}
	w, tx := newWrapper(rec)
	applied := false
	op := createOp(map[string]counter{})
	op.Operation = "counter.delete"
	op.Apply = func(context.Context, *counter) (counter, error) {
		applied = true
		return counter{}, nil
	}

	readOnly := authz.NewActor("u2", "", []authz.RoleBinding{{ID: "r", UserID: "u2", Role: authz.RoleReadOnly}})
	_, err := Run(context.Background(), w, readOnly, op)
	if reason, ok := authz.DenialReason(err); !ok || reason != authz.ReasonInsufficientRole {
		t.Fatalf("expected INSUFFICIENT_ROLE, got %v", err)
	}
	_, err = Run(context.Background(), w, authz.NewActor("u3", "", nil), op)
	if reason, _ := authz.DenialReason(err); reason != authz.ReasonNoBindings {
		t.Fatalf("expected NO_BINDINGS, got %v", err)
	}
	_, err = Run(context.Background(), w, authz.Actor{}, op)
	if !errors.Is(err, authz.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if applied || len(rec.all()) != 0 || tx.rollbacks != 0 {
		t.Fatalf("denied mutation left side effects applied=%v entries=%d", applied, len(rec.all()))
	}
}

func TestRunUnregisteredOperation(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	op := createOp(map[string]counter{})
	op.Operation = "counter.archive"
	if _, err := Run(context.Background(), w, admin(), op); !errors.Is(err, authz.ErrUnregisteredOperation) {
		t.Fatalf("expected ErrUnregisteredOperation, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("unexpected audit entry")
	}
}

func TestRunStoreErrorReturnedUnchanged(t *testing.T) {
	rec := &fakeRecorder{}
	w, tx := newWrapper(rec)
	boom := errors.New("connection reset")
	op := createOp(map[string]counter{})
	op.Apply = func(context.Context, *counter) (counter, error) { return counter{}, boom }

	if _, err := Run(context.Background(), w, admin(), op); err != boom {
		t.Fatalf("expected store error unchanged, got %v", err)
	}
	if len(rec.all()) != 0 || tx.rollbacks != 1 {
		t.Fatalf("expected rollback without audit, entries=%d rollbacks=%d", len(rec.all()), tx.rollbacks)
	}
}

func TestRunAuditFailureDoesNotFailMutation(t *testing.T) {
	var buf bytes.Buffer
	failing := audit.NewRecorder(audit.LedgerFunc(func(context.Context, audit.Entry) error {
		return errors.New("ledger offline")
	}), audit.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	w, _ := newWrapper(failing)

	got, err := Run(context.Background(), w, admin(), createOp(map[string]counter{}))
	if err != nil || got.ID != "c1" {
		t.Fatalf("mutation failed because of audit: %+v %v", got, err)
	}
	if !strings.Contains(buf.String(), "audit_write_failed") {
		t.Fatalf("audit failure not logged: %s", buf.String())
	}
}

func TestRunRedactsSnapshots(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	op := createOp(map[string]counter{})
	op.Apply = func(context.Context, *counter) (counter, error) {
		return counter{ID: "c1", Value: 1, Secret: "hash"}, nil
	}
	op.Redact = func(c counter) any {
		c.Secret = ""
		return c
	}
	got, err := Run(context.Background(), w, admin(), op)
	if err != nil || got.Secret != "hash" {
		t.Fatalf("result must not be redacted: %+v %v", got, err)
	}
	if strings.Contains(string(rec.all()[0].After), "hash") {
		t.Fatalf("secret leaked into audit: %s", rec.all()[0].After)
	}
}

func TestRunInternalHasNoActor(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	if _, err := RunInternal(context.Background(), w, createOp(map[string]counter{})); err != nil {
		t.Fatalf("RunInternal: %v", err)
	}
	if e := rec.all()[0]; e.ActorID != nil {
		t.Fatalf("expected nil actor, got %v", *e.ActorID)
	}
}

func TestRunResolvesTenantUnderEnforcement(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec, authz.WithScopeEnforcement())
	op := createOp(map[string]counter{})
	op.Tenant = ""
	op.TenantFunc = func(context.Context) (string, error) { return "B2", nil }

	_, err := Run(context.Background(), w, admin(), op)
	if reason, _ := authz.DenialReason(err); reason != authz.ReasonTenantMismatch {
		t.Fatalf("expected TENANT_MISMATCH, got %v", err)
	}

	blind, _ := newWrapper(rec)
	op.TenantFunc = func(context.Context) (string, error) {
		t.Fatalf("tenant must not be resolved in scope-blind mode")
		return "", nil
	}
	if _, err := Run(context.Background(), blind, admin(), op); err != nil {
		t.Fatalf("scope-blind run failed: %v", err)
	}
}

func TestRunValidatesOp(t *testing.T) {
	w, _ := newWrapper(&fakeRecorder{})
	op := Op[counter]{Operation: "counter.update", Action: audit.ActionUpdate, EntityKind: "counter",
		Apply:    func(context.Context, *counter) (counter, error) { return counter{}, nil },
		EntityID: func(c counter) string { return c.ID },
	}
	if _, err := Run(context.Background(), w, admin(), op); !errors.Is(err, authz.ErrInvalidInput) {
		t.Fatalf("expected invalid op error, got %v", err)
	}
}

func TestConcurrentUpdatesProduceConsistentEntries(t *testing.T) {
	rec := &fakeRecorder{}
	w, _ := newWrapper(rec)
	store := map[string]counter{"c1": {ID: "c1", Value: 0}}
	op := Op[counter]{
		Operation:  "counter.update",
		Action:     audit.ActionUpdate,
		EntityKind: "counter",
		Load:       func(context.Context) (counter, error) { return store["c1"], nil },
		Apply: func(_ context.Context, before *counter) (counter, error) {
			c := *before
			c.Value++
			store["c1"] = c
			return c, nil
		},
		EntityID: func(c counter) string { return c.ID },
	}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Run(context.Background(), w, admin(), op); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	entries := rec.all()
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	befores := make([]int, 0, n)
	for _, e := range entries {
		b, a := decode(t, e.Before), decode(t, e.After)
		if a.Value != b.Value+1 {
			t.Fatalf("inconsistent entry before=%d after=%d", b.Value, a.Value)
		}
		befores = append(befores, b.Value)
	}
	sort.Ints(befores)
	for i, v := range befores {
		if v != i {
			t.Fatalf("lost or duplicated update: befores=%v", befores)
		}
	}
}

func TestRunNoChangeSkipsAudit(t *testing.T) {
	rec := &fakeRecorder{}
	w, tx := newWrapper(rec)
	existing := counter{ID: "c1", Value: 7}
	op := createOp(map[string]counter{})
	op.Apply = func(context.Context, *counter) (counter, error) { return existing, ErrNoChange }

	got, err := Run(context.Background(), w, admin(), op)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != existing {
		t.Fatalf("expected current entity back, got %+v", got)
	}
	if len(rec.all()) != 0 || tx.rollbacks != 0 {
		t.Fatalf("no-change must commit without an entry, got %d entries, %d rollbacks", len(rec.all()), tx.rollbacks)
	}
}
