package audit

import (
	"context"
	"log/slog"

	"estatly.org/internal/obs"
)

// LogLedger writes each entry as one JSON log line. It is the sink used when
// no database is configured.
type LogLedger struct {
	logger *slog.Logger
}

func NewLogLedger(logger *slog.Logger) *LogLedger {
	return &LogLedger{logger: logger}
}

func (l *LogLedger) Record(ctx context.Context, e Entry) error {
	attrs := []any{
		slog.String("type", "audit"),
		slog.String("id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("entity_kind", e.EntityKind),
		slog.String("entity_id", e.EntityID),
		slog.Time("created_at", e.CreatedAt),
	}
	if e.ActorID != nil {
		attrs = append(attrs, slog.String("actor_id", *e.ActorID))
	}
	if len(e.Before) > 0 {
		attrs = append(attrs, slog.Any("before", e.Before))
	}
	if len(e.After) > 0 {
		attrs = append(attrs, slog.Any("after", e.After))
	}
	if len(e.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", e.Metadata))
	}
	loggerFrom(l.logger).InfoContext(ctx, "audit_entry", attrs...)
	return nil
}

func loggerFrom(l *slog.Logger) *slog.Logger {
	return obs.ResolveLogger(l)
}
