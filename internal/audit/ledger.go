package audit

import (
	"context"
	"log/slog"
	"strings"
)

// Ledger durably appends entries.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
}

// LedgerFunc adapts a function to Ledger.
type LedgerFunc func(ctx context.Context, e Entry) error

func (f LedgerFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// DefaultListLimit caps List when Filter.Limit is zero.
const DefaultListLimit = 100

// MaxListLimit is the largest page a Reader returns.
const MaxListLimit = 1000

// Filter narrows an administrative listing. Entries are returned in id order;
// AfterID resumes after the last id of the previous page.
type Filter struct {
	EntityKind string
	EntityID   string
	ActorID    string
	AfterID    string
	Limit      int
}

// Normalize trims fields and clamps the limit.
func (f Filter) Normalize() Filter {
	f.EntityKind = strings.TrimSpace(f.EntityKind)
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.ActorID = strings.TrimSpace(f.ActorID)
	f.AfterID = strings.TrimSpace(f.AfterID)
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

// Match reports whether e passes the filter's field predicates. Paging is
// applied by the reader.
func (f Filter) Match(e Entry) bool {
	if f.EntityKind != "" && e.EntityKind != f.EntityKind {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && e.Actor() != f.ActorID {
		return false
	}
	if f.AfterID != "" && e.ID <= f.AfterID {
		return false
	}
	return true
}

// Reader exposes entries read-only to administrative tooling.
type Reader interface {
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Tee records to primary and then to every secondary. Only the primary's
// result is returned; secondary failures are logged.
func Tee(primary Ledger, secondaries ...Ledger) Ledger {
	return &tee{primary: primary, secondaries: secondaries}
}

type tee struct {
	primary     Ledger
	secondaries []Ledger
}

func (t *tee) Record(ctx context.Context, e Entry) error {
	if err := t.primary.Record(ctx, e); err != nil {
		return err
	}
	for _, s := range t.secondaries {
		if err := s.Record(ctx, e.Clone()); err != nil {
			loggerFrom(nil).Warn("audit_secondary_failed", slog.String("entry_id", e.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}
