package audit

import (
	"context"
	"log/slog"
	"time"

	"estatly.org/internal/ids"
	"estatly.org/internal/obs"
)

// DefaultTimeout bounds a single ledger write.
const DefaultTimeout = 2 * time.Second

// Recorder submits entries to a ledger on behalf of mutations. A failed write
// is logged and counted but never returned to the mutation's caller.
type Recorder struct {
	ledger  Ledger
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	timeout time.Duration
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(gen func() string) RecorderOption {
	return func(r *Recorder) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRecorder(ledger Ledger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		ledger:  ledger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   ids.New,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills in id, timestamp and request metadata, then writes the entry
// under the recorder's timeout. It reports whether the entry was accepted by
// the ledger. Failures are logged as audit_write_failed.
func (r *Recorder) Record(ctx context.Context, e Entry) (Entry, bool) {
	if e.ID == "" {
		e.ID = r.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		if _, ok := e.Metadata["request_id"]; !ok {
			e.Metadata["request_id"] = rid
		}
	}
	if err := Validate(e); err != nil {
		r.fail(ctx, e, err)
		return e, false
	}
	if r.ledger == nil {
		r.fail(ctx, e, ErrClosed)
		return e, false
	}

	// The write must outlive a cancelled request; only the timeout bounds it.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.ledger.Record(wctx, e); err != nil {
		r.fail(ctx, e, err)
		return e, false
	}
	return e, true
}

func (r *Recorder) fail(ctx context.Context, e Entry, err error) {
	obs.AuditWriteFailures.WithLabelValues(e.EntityKind).Inc()
	loggerFrom(r.logger).ErrorContext(ctx, "audit_write_failed",
		slog.String("entry_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("entity_kind", e.EntityKind),
		slog.String("entity_id", e.EntityID),
		slog.String("actor_id", e.Actor()),
		slog.String("error", err.Error()),
	)
}
