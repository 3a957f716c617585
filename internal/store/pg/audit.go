package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"estatly.org/internal/audit"
)

// Record appends the entry. The table has no update path.
func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	if err := audit.Validate(e); err != nil {
		return err
	}
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		insert into audit_entries (id, actor_id, action, entity_kind, entity_id, before, after, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, nullIfEmpty(e.Actor()), string(e.Action), e.EntityKind, e.EntityID,
		nullJSON(e.Before), nullJSON(e.After), meta, e.CreatedAt)
	return err
}

// List returns entries in id order, which is also creation order.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EntityKind != "" {
		add("entity_kind = $%d", f.EntityKind)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.AfterID != "" {
		add("id > $%d", f.AfterID)
	}
	query := `select id, actor_id, action, entity_kind, entity_id, before, after, metadata, created_at from audit_entries`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" order by id limit $%d", len(args))

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			actor         sql.NullString
			action        string
			before, after []byte
			meta          []byte
		)
		if err := rows.Scan(&e.ID, &actor, &action, &e.EntityKind, &e.EntityID, &before, &after, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		if actor.Valid {
			e.ActorID = audit.ActorRef(actor.String)
		}
		if len(before) > 0 {
			e.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			e.After = json.RawMessage(after)
		}
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
