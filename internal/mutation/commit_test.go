package mutation

import (
	"context"
	"errors"
	"testing"

	"estatly.org/internal/audit"
)

func hookedOp(log *[]string, fail error, nested func(context.Context) error) Op[counter] {
	return Op[counter]{
		Operation:  "counter.create",
		Action:     audit.ActionCreate,
		EntityKind: "counter",
		Apply: func(ctx context.Context, _ *counter) (counter, error) {
			AfterCommit(ctx, func(context.Context) { *log = append(*log, "committed") })
			if nested != nil {
				if err := nested(ctx); err != nil {
					return counter{}, err
				}
			}
			*log = append(*log, "applied")
			return counter{ID: "c1"}, fail
		},
		EntityID: func(c counter) string { return c.ID },
	}
}

func TestAfterCommitRunsOnceCommitted(t *testing.T) {
	w, _ := newWrapper(nil)
	var log []string
	if _, err := RunInternal(context.Background(), w, hookedOp(&log, nil, nil)); err != nil {
		t.Fatalf("RunInternal: %v", err)
	}
	if len(log) != 2 || log[0] != "applied" || log[1] != "committed" {
		t.Fatalf("expected hook after apply, got %v", log)
	}
}

func TestAfterCommitDroppedOnRollback(t *testing.T) {
	w, tx := newWrapper(nil)
	var log []string
	boom := errors.New("boom")
	if _, err := RunInternal(context.Background(), w, hookedOp(&log, boom, nil)); !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}
	if tx.rollbacks != 1 || len(log) != 1 || log[0] != "applied" {
		t.Fatalf("hook must not run on rollback, got %v (rollbacks=%d)", log, tx.rollbacks)
	}
}

func TestAfterCommitNestedWaitsForOuter(t *testing.T) {
	w := New(nil, nil, NoTx, nil)
	var log []string
	inner := func(ctx context.Context) error {
		_, err := RunInternal(ctx, w, hookedOp(&log, nil, nil))
		if len(log) != 1 || log[0] != "applied" {
			t.Fatalf("nested hooks must wait for the outer commit, got %v", log)
		}
		return err
	}
	if _, err := RunInternal(context.Background(), w, hookedOp(&log, nil, inner)); err != nil {
		t.Fatalf("RunInternal: %v", err)
	}
	if len(log) != 4 || log[2] != "committed" || log[3] != "committed" {
		t.Fatalf("expected both hooks after the outer apply, got %v", log)
	}
}

func TestAfterCommitOutsideMutationRunsNow(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	if !ran {
		t.Fatal("expected immediate run without a mutation")
	}
}
