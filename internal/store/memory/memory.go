// Package memory is an in-process store used by tests and by the API when
// no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"estatly.org/internal/audit"
	"estatly.org/internal/auth"
	"estatly.org/internal/authz"
	"estatly.org/internal/ids"
	"estatly.org/internal/mutation"
	"estatly.org/internal/property"
)

var (
	_ authz.BindingStore  = (*Store)(nil)
	_ audit.Ledger        = (*Store)(nil)
	_ audit.Reader        = (*Store)(nil)
	_ property.Store      = (*Store)(nil)
	_ auth.UserStore      = (*Store)(nil)
	_ mutation.Transactor = (*Store)(nil)
)

type state struct {
	buildings  map[string]property.Building
	apartments map[string]property.Apartment
	expenses   map[string]property.Expense
	payments   map[string]property.Payment
	users      map[string]auth.User
	bindings   map[string]authz.RoleBinding
	entries    []audit.Entry
}

func newState() state {
	return state{
		buildings:  make(map[string]property.Building),
		apartments: make(map[string]property.Apartment),
		expenses:   make(map[string]property.Expense),
		payments:   make(map[string]property.Payment),
		users:      make(map[string]auth.User),
		bindings:   make(map[string]authz.RoleBinding),
	}
}

// clone copies the entity maps. The audit ledger is append-only and is not
// copied; a rollback truncates it back to its earlier length instead.
func (s state) clone() state {
	out := newState()
	for k, v := range s.buildings {
		out.buildings[k] = v
	}
	for k, v := range s.apartments {
		out.apartments[k] = v
	}
	for k, v := range s.expenses {
		out.expenses[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.bindings {
		out.bindings[k] = v
	}
	return out
}

// Store keeps everything in maps behind one mutex. A transaction holds the
// mutex for its whole duration, so transactions are serialisable.
type Store struct {
	mu    sync.Mutex
	data  state
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		data:  newState(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// InTx runs fn with the store locked. State changes are discarded when fn
// returns an error. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, recorded := s.data.clone(), len(s.data.entries)
	restore := func() {
		saved.entries = s.data.entries[:recorded]
		s.data = saved
	}
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
		if err != nil {
			restore()
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, s))
}

// with runs fn under the lock unless ctx already carries this store's
// transaction.
func (s *Store) with(ctx context.Context, fn func(*state) error) error {
	if s.inTx(ctx) {
		return fn(&s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
