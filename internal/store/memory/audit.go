package memory

import (
	"context"
	"sort"

	"estatly.org/internal/audit"
)

// Record appends the entry. Entries are never modified afterwards.
func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	if err := audit.Validate(e); err != nil {
		return err
	}
	return s.with(ctx, func(st *state) error {
		st.entries = append(st.entries, e.Clone())
		return nil
	})
}

// List returns matching entries in id order.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	f = f.Normalize()
	var out []audit.Entry
	err := s.with(ctx, func(st *state) error {
		for _, e := range st.entries {
			if f.Match(e) {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortEntries(es []audit.Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}
