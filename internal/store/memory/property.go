package memory

import (
	"context"
	"fmt"

	"estatly.org/internal/property"
)

func getIn[T any](m map[string]T, kind, id string) (T, error) {
	v, ok := m[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %s", property.ErrNotFound, kind, id)
	}
	return v, nil
}

func listIn[T any](m map[string]T, f property.ListFilter, tenant func(T) string, status func(T) property.Lifecycle) []T {
	var out []T
	for _, id := range sortedKeys(m) {
		if f.AfterID != "" && id <= f.AfterID {
			continue
		}
		v := m[id]
		if !f.Visible(tenant(v), status(v)) {
			continue
		}
		out = append(out, v)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func (s *Store) CreateBuilding(ctx context.Context, b property.Building) (property.Building, error) {
	err := s.with(ctx, func(st *state) error {
		if _, ok := st.buildings[b.ID]; ok {
			return fmt.Errorf("%w: building %s exists", property.ErrConflict, b.ID)
		}
		st.buildings[b.ID] = b
		return nil
	})
	return b, err
}

func (s *Store) GetBuilding(ctx context.Context, id string) (out property.Building, err error) {
	err = s.with(ctx, func(st *state) error {
		out, err = getIn(st.buildings, property.KindBuilding, id)
		return err
	})
	return out, err
}

// GetBuildingForUpdate is GetBuilding; the transaction already holds the store lock.
func (s *Store) GetBuildingForUpdate(ctx context.Context, id string) (property.Building, error) {
	return s.GetBuilding(ctx, id)
}

func (s *Store) ListBuildings(ctx context.Context, f property.ListFilter) (out []property.Building, err error) {
	err = s.with(ctx, func(st *state) error {
		out = listIn(st.buildings, f,
			func(b property.Building) string { return b.ID },
			func(b property.Building) property.Lifecycle { return b.Status })
		return nil
	})
	return out, err
}

func (s *Store) UpdateBuilding(ctx context.Context, b property.Building) (property.Building, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.buildings, property.KindBuilding, b.ID); err != nil {
			return err
		}
		st.buildings[b.ID] = b
		return nil
	})
	return b, err
}

func apartmentClash(st *state, a property.Apartment) error {
	for _, other := range st.apartments {
		if other.ID != a.ID && other.BuildingID == a.BuildingID && other.Number == a.Number && !other.Status.Deleted() {
			return fmt.Errorf("%w: apartment %s already exists in building %s", property.ErrConflict, a.Number, a.BuildingID)
		}
	}
	return nil
}

func (s *Store) CreateApartment(ctx context.Context, a property.Apartment) (property.Apartment, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.buildings, property.KindBuilding, a.BuildingID); err != nil {
			return err
		}
		if err := apartmentClash(st, a); err != nil {
			return err
		}
		st.apartments[a.ID] = a
		return nil
	})
	return a, err
}

func (s *Store) GetApartment(ctx context.Context, id string) (out property.Apartment, err error) {
	err = s.with(ctx, func(st *state) error {
		out, err = getIn(st.apartments, property.KindApartment, id)
		return err
	})
	return out, err
}

func (s *Store) GetApartmentForUpdate(ctx context.Context, id string) (property.Apartment, error) {
	return s.GetApartment(ctx, id)
}

func (s *Store) ListApartments(ctx context.Context, f property.ListFilter) (out []property.Apartment, err error) {
	err = s.with(ctx, func(st *state) error {
		out = listIn(st.apartments, f,
			func(a property.Apartment) string { return a.BuildingID },
			func(a property.Apartment) property.Lifecycle { return a.Status })
		return nil
	})
	return out, err
}

func (s *Store) UpdateApartment(ctx context.Context, a property.Apartment) (property.Apartment, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.apartments, property.KindApartment, a.ID); err != nil {
			return err
		}
		if !a.Status.Deleted() {
			if err := apartmentClash(st, a); err != nil {
				return err
			}
		}
		st.apartments[a.ID] = a
		return nil
	})
	return a, err
}

func (s *Store) CreateExpense(ctx context.Context, e property.Expense) (property.Expense, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.buildings, property.KindBuilding, e.BuildingID); err != nil {
			return err
		}
		st.expenses[e.ID] = e
		return nil
	})
	return e, err
}

func (s *Store) GetExpense(ctx context.Context, id string) (out property.Expense, err error) {
	err = s.with(ctx, func(st *state) error {
		out, err = getIn(st.expenses, property.KindExpense, id)
		return err
	})
	return out, err
}

func (s *Store) GetExpenseForUpdate(ctx context.Context, id string) (property.Expense, error) {
	return s.GetExpense(ctx, id)
}

func (s *Store) ListExpenses(ctx context.Context, f property.ListFilter) (out []property.Expense, err error) {
	err = s.with(ctx, func(st *state) error {
		out = listIn(st.expenses, f,
			func(e property.Expense) string { return e.BuildingID },
			func(e property.Expense) property.Lifecycle { return e.Status })
		return nil
	})
	return out, err
}

func (s *Store) UpdateExpense(ctx context.Context, e property.Expense) (property.Expense, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.expenses, property.KindExpense, e.ID); err != nil {
			return err
		}
		st.expenses[e.ID] = e
		return nil
	})
	return e, err
}

func (s *Store) CreatePayment(ctx context.Context, p property.Payment) (property.Payment, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.buildings, property.KindBuilding, p.BuildingID); err != nil {
			return err
		}
		if _, err := getIn(st.apartments, property.KindApartment, p.ApartmentID); err != nil {
			return err
		}
		st.payments[p.ID] = p
		return nil
	})
	return p, err
}

func (s *Store) GetPayment(ctx context.Context, id string) (out property.Payment, err error) {
	err = s.with(ctx, func(st *state) error {
		out, err = getIn(st.payments, property.KindPayment, id)
		return err
	})
	return out, err
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id string) (property.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) ListPayments(ctx context.Context, f property.ListFilter) (out []property.Payment, err error) {
	err = s.with(ctx, func(st *state) error {
		out = listIn(st.payments, f,
			func(p property.Payment) string { return p.BuildingID },
			func(p property.Payment) property.Lifecycle { return p.Status })
		return nil
	})
	return out, err
}

func (s *Store) UpdatePayment(ctx context.Context, p property.Payment) (property.Payment, error) {
	err := s.with(ctx, func(st *state) error {
		if _, err := getIn(st.payments, property.KindPayment, p.ID); err != nil {
			return err
		}
		st.payments[p.ID] = p
		return nil
	})
	return p, err
}
