package property

import (
	"context"
	"fmt"
	"strings"
	"time"

	"estatly.org/internal/audit"
	"estatly.org/internal/authz"
	"estatly.org/internal/ids"
	"estatly.org/internal/mutation"
)

// Service exposes the property resources. Every mutation runs through the
// wrapper; reads are authorized and then narrowed to the caller's tenants.
type Service struct {
	w     *mutation.Wrapper
	store Store
	now   func() time.Time
	newID func() string

	buildings  resource[Building]
	apartments resource[Apartment]
	expenses   resource[Expense]
	payments   resource[Payment]
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService registers the property operations on the wrapper's policy.
func NewService(w *mutation.Wrapper, store Store, opts ...Option) (*Service, error) {
	if w == nil || store == nil {
		return nil, fmt.Errorf("%w: wrapper and store are required", ErrInvalidInput)
	}
	if err := RegisterOperations(w.Policy()); err != nil {
		return nil, err
	}
	s := &Service{
		w:     w,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buildings = resource[Building]{
		kind: KindBuilding, getOp: OpBuildingGet, updateOp: OpBuildingUpdate, deleteOp: OpBuildingDelete,
		get: store.GetBuilding, lock: store.GetBuildingForUpdate, save: store.UpdateBuilding,
		id:     func(b Building) string { return b.ID },
		tenant: func(b Building) string { return b.ID },
		status: func(b Building) Lifecycle { return b.Status },
		touch:  func(b *Building, l Lifecycle, at time.Time) { b.Status, b.UpdatedAt = l, at },
	}
	s.apartments = resource[Apartment]{
		kind: KindApartment, getOp: OpApartmentGet, updateOp: OpApartmentUpdate, deleteOp: OpApartmentDelete,
		get: store.GetApartment, lock: store.GetApartmentForUpdate, save: store.UpdateApartment,
		id:     func(a Apartment) string { return a.ID },
		tenant: func(a Apartment) string { return a.BuildingID },
		status: func(a Apartment) Lifecycle { return a.Status },
		touch:  func(a *Apartment, l Lifecycle, at time.Time) { a.Status, a.UpdatedAt = l, at },
	}
	s.expenses = resource[Expense]{
		kind: KindExpense, getOp: OpExpenseGet, updateOp: OpExpenseUpdate, deleteOp: OpExpenseDelete,
		get: store.GetExpense, lock: store.GetExpenseForUpdate, save: store.UpdateExpense,
		id:     func(e Expense) string { return e.ID },
		tenant: func(e Expense) string { return e.BuildingID },
		status: func(e Expense) Lifecycle { return e.Status },
		touch:  func(e *Expense, l Lifecycle, at time.Time) { e.Status, e.UpdatedAt = l, at },
	}
	s.payments = resource[Payment]{
		kind: KindPayment, getOp: OpPaymentGet, updateOp: OpPaymentUpdate, deleteOp: OpPaymentDelete,
		get: store.GetPayment, lock: store.GetPaymentForUpdate, save: store.UpdatePayment,
		id:     func(p Payment) string { return p.ID },
		tenant: func(p Payment) string { return p.BuildingID },
		status: func(p Payment) Lifecycle { return p.Status },
		touch:  func(p *Payment, l Lifecycle, at time.Time) { p.Status, p.UpdatedAt = l, at },
	}
	return s, nil
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ListOptions are the caller-controlled parts of a listing.
type ListOptions struct {
	IncludeDeleted bool
	AfterID        string
	Limit          int
}

// readScope authorizes a read and returns the filter restricting it to the
// tenants the caller's matching bindings cover.
func (s *Service) readScope(ctx context.Context, actor authz.Actor, op authz.Operation, tenant string) (ListFilter, error) {
	d, err := s.w.Authorize(ctx, actor, op, tenant)
	if err != nil {
		return ListFilter{}, err
	}
	if d.Global() {
		return ListFilter{}, nil
	}
	return ListFilter{Tenants: append([]string{}, d.TenantIDs()...)}, nil
}

func (s *Service) listFilter(ctx context.Context, actor authz.Actor, op authz.Operation, buildingID string, opts ListOptions) (ListFilter, error) {
	f, err := s.readScope(ctx, actor, op, buildingID)
	if err != nil {
		return ListFilter{}, err
	}
	f.BuildingID = strings.TrimSpace(buildingID)
	f.IncludeDeleted = opts.IncludeDeleted
	f.AfterID = strings.TrimSpace(opts.AfterID)
	f.Limit = opts.Limit
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f, nil
}

// activeBuilding loads the parent of a child entity and rejects deleted ones.
func (s *Service) activeBuilding(ctx context.Context, id string) (Building, error) {
	return loadActiveBuilding(ctx, s.store, id)
}

// CheckBuilding reports ErrNotFound for an unknown building and ErrConflict
// for a deleted one. Role grants use it to validate tenant scopes.
func CheckBuilding(ctx context.Context, repo BuildingRepo, id string) error {
	_, err := loadActiveBuilding(ctx, repo, id)
	return err
}

func loadActiveBuilding(ctx context.Context, repo BuildingRepo, id string) (Building, error) {
	b, err := repo.GetBuilding(ctx, id)
	if err != nil {
		return Building{}, err
	}
	if b.Status.Deleted() {
		return Building{}, fmt.Errorf("%w: building %s is deleted", ErrConflict, id)
	}
	return b, nil
}

func (s *Service) CreateBuilding(ctx context.Context, actor authz.Actor, in BuildingInput) (Building, error) {
	now := s.now()
	b := Building{ID: s.newID(), Name: in.Name, Address: in.Address, Status: Active(), CreatedAt: now, UpdatedAt: now}
	if err := normalizeBuilding(&b); err != nil {
		return Building{}, err
	}
	return mutation.Run(ctx, s.w, actor, mutation.Op[Building]{
		Operation:  OpBuildingCreate,
		Action:     audit.ActionCreate,
		EntityKind: KindBuilding,
		Apply: func(ctx context.Context, _ *Building) (Building, error) {
			return s.store.CreateBuilding(ctx, b)
		},
		EntityID: s.buildings.id,
	})
}

func (s *Service) GetBuilding(ctx context.Context, actor authz.Actor, id string) (Building, error) {
	return s.buildings.fetch(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) ListBuildings(ctx context.Context, actor authz.Actor, opts ListOptions) ([]Building, error) {
	f, err := s.listFilter(ctx, actor, OpBuildingList, "", opts)
	if err != nil {
		return nil, err
	}
	return s.store.ListBuildings(ctx, f)
}

func (s *Service) UpdateBuilding(ctx context.Context, actor authz.Actor, id string, patch BuildingPatch) (Building, error) {
	return s.buildings.modify(ctx, s, actor, strings.TrimSpace(id), func(b *Building) error {
		patch.apply(b)
		return normalizeBuilding(b)
	})
}

// DeleteBuilding marks the building deleted. Its children are left as is.
func (s *Service) DeleteBuilding(ctx context.Context, actor authz.Actor, id string) (Building, error) {
	return s.buildings.remove(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) CreateApartment(ctx context.Context, actor authz.Actor, buildingID string, in ApartmentInput) (Apartment, error) {
	buildingID = strings.TrimSpace(buildingID)
	now := s.now()
	a := Apartment{
		ID: s.newID(), BuildingID: buildingID, Number: in.Number, Floor: in.Floor,
		OwnerName: in.OwnerName, Shares: in.Shares, Status: Active(), CreatedAt: now, UpdatedAt: now,
	}
	if err := normalizeApartment(&a); err != nil {
		return Apartment{}, err
	}
	return mutation.Run(ctx, s.w, actor, mutation.Op[Apartment]{
		Operation:  OpApartmentCreate,
		Action:     audit.ActionCreate,
		EntityKind: KindApartment,
		Tenant:     buildingID,
		Apply: func(ctx context.Context, _ *Apartment) (Apartment, error) {
			if _, err := s.activeBuilding(ctx, buildingID); err != nil {
				return Apartment{}, err
			}
			return s.store.CreateApartment(ctx, a)
		},
		EntityID: s.apartments.id,
	})
}

func (s *Service) GetApartment(ctx context.Context, actor authz.Actor, id string) (Apartment, error) {
	return s.apartments.fetch(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) ListApartments(ctx context.Context, actor authz.Actor, buildingID string, opts ListOptions) ([]Apartment, error) {
	f, err := s.listFilter(ctx, actor, OpApartmentList, buildingID, opts)
	if err != nil {
		return nil, err
	}
	return s.store.ListApartments(ctx, f)
}

func (s *Service) UpdateApartment(ctx context.Context, actor authz.Actor, id string, patch ApartmentPatch) (Apartment, error) {
	return s.apartments.modify(ctx, s, actor, strings.TrimSpace(id), func(a *Apartment) error {
		patch.apply(a)
		return normalizeApartment(a)
	})
}

func (s *Service) DeleteApartment(ctx context.Context, actor authz.Actor, id string) (Apartment, error) {
	return s.apartments.remove(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) CreateExpense(ctx context.Context, actor authz.Actor, buildingID string, in ExpenseInput) (Expense, error) {
	buildingID = strings.TrimSpace(buildingID)
	now := s.now()
	e := Expense{
		ID: s.newID(), BuildingID: buildingID, Category: in.Category, Description: in.Description,
		AmountCents: in.AmountCents, IncurredOn: in.IncurredOn, Status: Active(), CreatedAt: now, UpdatedAt: now,
	}
	if err := normalizeExpense(&e); err != nil {
		return Expense{}, err
	}
	return mutation.Run(ctx, s.w, actor, mutation.Op[Expense]{
		Operation:  OpExpenseCreate,
		Action:     audit.ActionCreate,
		EntityKind: KindExpense,
		Tenant:     buildingID,
		Apply: func(ctx context.Context, _ *Expense) (Expense, error) {
			if _, err := s.activeBuilding(ctx, buildingID); err != nil {
				return Expense{}, err
			}
			return s.store.CreateExpense(ctx, e)
		},
		EntityID: s.expenses.id,
	})
}

func (s *Service) GetExpense(ctx context.Context, actor authz.Actor, id string) (Expense, error) {
	return s.expenses.fetch(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) ListExpenses(ctx context.Context, actor authz.Actor, buildingID string, opts ListOptions) ([]Expense, error) {
	f, err := s.listFilter(ctx, actor, OpExpenseList, buildingID, opts)
	if err != nil {
		return nil, err
	}
	return s.store.ListExpenses(ctx, f)
}

func (s *Service) UpdateExpense(ctx context.Context, actor authz.Actor, id string, patch ExpensePatch) (Expense, error) {
	return s.expenses.modify(ctx, s, actor, strings.TrimSpace(id), func(e *Expense) error {
		patch.apply(e)
		return normalizeExpense(e)
	})
}

func (s *Service) DeleteExpense(ctx context.Context, actor authz.Actor, id string) (Expense, error) {
	return s.expenses.remove(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) CreatePayment(ctx context.Context, actor authz.Actor, buildingID string, in PaymentInput) (Payment, error) {
	buildingID = strings.TrimSpace(buildingID)
	now := s.now()
	p := Payment{
		ID: s.newID(), BuildingID: buildingID, ApartmentID: in.ApartmentID, AmountCents: in.AmountCents,
		PaidOn: in.PaidOn, Reference: in.Reference, Status: Active(), CreatedAt: now, UpdatedAt: now,
	}
	if err := normalizePayment(&p); err != nil {
		return Payment{}, err
	}
	return mutation.Run(ctx, s.w, actor, mutation.Op[Payment]{
		Operation:  OpPaymentCreate,
		Action:     audit.ActionCreate,
		EntityKind: KindPayment,
		Tenant:     buildingID,
		Apply: func(ctx context.Context, _ *Payment) (Payment, error) {
			if _, err := s.activeBuilding(ctx, buildingID); err != nil {
				return Payment{}, err
			}
			apt, err := s.store.GetApartment(ctx, p.ApartmentID)
			if err != nil {
				return Payment{}, err
			}
			if apt.BuildingID != buildingID {
				return Payment{}, fmt.Errorf("%w: apartment %s is not in building %s", ErrInvalidInput, apt.ID, buildingID)
			}
			if apt.Status.Deleted() {
				return Payment{}, fmt.Errorf("%w: apartment %s is deleted", ErrConflict, apt.ID)
			}
			return s.store.CreatePayment(ctx, p)
		},
		EntityID: s.payments.id,
	})
}

func (s *Service) GetPayment(ctx context.Context, actor authz.Actor, id string) (Payment, error) {
	return s.payments.fetch(ctx, s, actor, strings.TrimSpace(id))
}

func (s *Service) ListPayments(ctx context.Context, actor authz.Actor, buildingID string, opts ListOptions) ([]Payment, error) {
	f, err := s.listFilter(ctx, actor, OpPaymentList, buildingID, opts)
	if err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, f)
}

func (s *Service) UpdatePayment(ctx context.Context, actor authz.Actor, id string, patch PaymentPatch) (Payment, error) {
	return s.payments.modify(ctx, s, actor, strings.TrimSpace(id), func(p *Payment) error {
		patch.apply(p)
		return normalizePayment(p)
	})
}

func (s *Service) DeletePayment(ctx context.Context, actor authz.Actor, id string) (Payment, error) {
	return s.payments.remove(ctx, s, actor, strings.TrimSpace(id))
}
