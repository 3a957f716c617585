package property

import "context"

// ListFilter narrows a listing. A nil Tenants slice means every building;
// an empty non-nil slice matches nothing.
type ListFilter struct {
	BuildingID     string
	Tenants        []string
	IncludeDeleted bool
	AfterID        string
	Limit          int
}

// Visible reports whether an entity of tenant passes the tenant and
// lifecycle predicates.
func (f ListFilter) Visible(tenant string, status Lifecycle) bool {
	if !f.IncludeDeleted && status.Deleted() {
		return false
	}
	if f.BuildingID != "" && tenant != f.BuildingID {
		return false
	}
	if f.Tenants == nil {
		return true
	}
	for _, t := range f.Tenants {
		if t == tenant {
			return true
		}
	}
	return false
}

// Repositories return ErrNotFound for unknown ids and ErrConflict for natural
// key collisions. GetForUpdate locks the row for the enclosing transaction.
type BuildingRepo interface {
	CreateBuilding(ctx context.Context, b Building) (Building, error)
	GetBuilding(ctx context.Context, id string) (Building, error)
	GetBuildingForUpdate(ctx context.Context, id string) (Building, error)
	ListBuildings(ctx context.Context, f ListFilter) ([]Building, error)
	UpdateBuilding(ctx context.Context, b Building) (Building, error)
}

type ApartmentRepo interface {
	CreateApartment(ctx context.Context, a Apartment) (Apartment, error)
	GetApartment(ctx context.Context, id string) (Apartment, error)
	GetApartmentForUpdate(ctx context.Context, id string) (Apartment, error)
	ListApartments(ctx context.Context, f ListFilter) ([]Apartment, error)
	UpdateApartment(ctx context.Context, a Apartment) (Apartment, error)
}

type ExpenseRepo interface {
	CreateExpense(ctx context.Context, e Expense) (Expense, error)
	GetExpense(ctx context.Context, id string) (Expense, error)
	GetExpenseForUpdate(ctx context.Context, id string) (Expense, error)
	ListExpenses(ctx context.Context, f ListFilter) ([]Expense, error)
	UpdateExpense(ctx context.Context, e Expense) (Expense, error)
}

type PaymentRepo interface {
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, id string) (Payment, error)
	ListPayments(ctx context.Context, f ListFilter) ([]Payment, error)
	UpdatePayment(ctx context.Context, p Payment) (Payment, error)
}

// Store groups every repository. Both store backends implement it.
type Store interface {
	BuildingRepo
	ApartmentRepo
	ExpenseRepo
	PaymentRepo
}
