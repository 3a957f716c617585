package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"estatly.org/internal/property"
)

type scanner interface{ Scan(...any) error }

func lifecycle(state string, deletedAt sql.NullTime) property.Lifecycle {
	if property.State(state) == property.StateDeleted && deletedAt.Valid {
		return property.DeletedAt(deletedAt.Time)
	}
	return property.Lifecycle{State: property.State(state)}
}

func deletedAt(l property.Lifecycle) sql.NullTime {
	if l.DeletedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *l.DeletedAt, Valid: true}
}

func state(l property.Lifecycle) string {
	if l.State == "" {
		return string(property.StateActive)
	}
	return string(l.State)
}

// listQuery appends the filter predicates to base. It reports false when the
// filter cannot match any row.
func listQuery(base, tenantCol string, f property.ListFilter) (string, []any, bool) {
	if f.Tenants != nil && len(f.Tenants) == 0 {
		return "", nil, false
	}
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.IncludeDeleted {
		add("state = $%d", string(property.StateActive))
	}
	if f.BuildingID != "" {
		add(tenantCol+" = $%d", f.BuildingID)
	}
	if f.Tenants != nil {
		add(tenantCol+" = any($%d)", f.Tenants)
	}
	if f.AfterID != "" {
		add("id > $%d", f.AfterID)
	}
	query := base
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	return query, args, true
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", property.ErrNotFound, kind, id)
}

// Buildings

const buildingColumns = `id, name, address, state, deleted_at, created_at, updated_at`

func scanBuilding(row scanner) (property.Building, error) {
	var (
		b   property.Building
		st  string
		del sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Address, &st, &del, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return property.Building{}, err
	}
	b.Status = lifecycle(st, del)
	return b, nil
}

func (s *Store) CreateBuilding(ctx context.Context, b property.Building) (property.Building, error) {
	out, err := scanBuilding(s.conn(ctx).QueryRowContext(ctx, `
		insert into buildings (id, name, address, state, deleted_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+buildingColumns,
		b.ID, b.Name, b.Address, state(b.Status), deletedAt(b.Status), b.CreatedAt, b.UpdatedAt))
	if err != nil {
		return property.Building{}, translate(err, property.ErrConflict, property.ErrNotFound)
	}
	return out, nil
}

func (s *Store) getBuilding(ctx context.Context, id, suffix string) (property.Building, error) {
	b, err := scanBuilding(s.conn(ctx).QueryRowContext(ctx, `select `+buildingColumns+` from buildings where id = $1`+suffix, id))
	if err != nil {
		return property.Building{}, translate(err, property.ErrConflict, notFound(property.KindBuilding, id))
	}
	return b, nil
}

func (s *Store) GetBuilding(ctx context.Context, id string) (property.Building, error) {
	return s.getBuilding(ctx, id, "")
}

func (s *Store) GetBuildingForUpdate(ctx context.Context, id string) (property.Building, error) {
	return s.getBuilding(ctx, id, " for update")
}

func (s *Store) ListBuildings(ctx context.Context, f property.ListFilter) ([]property.Building, error) {
	query, args, ok := listQuery(`select `+buildingColumns+` from buildings`, "id", f)
	if !ok {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBuilding)
}

func (s *Store) UpdateBuilding(ctx context.Context, b property.Building) (property.Building, error) {
	out, err := scanBuilding(s.conn(ctx).QueryRowContext(ctx, `
		update buildings set name = $2, address = $3, state = $4, deleted_at = $5, updated_at = $6
		where id = $1
		returning `+buildingColumns,
		b.ID, b.Name, b.Address, state(b.Status), deletedAt(b.Status), touched(b.UpdatedAt)))
	if err != nil {
		return property.Building{}, translate(err, property.ErrConflict, notFound(property.KindBuilding, b.ID))
	}
	return out, nil
}

// Apartments

const apartmentColumns = `id, building_id, number, floor, owner_name,
	share_common, share_elevator, share_heating, share_special, share_owner_borne, share_other,
	state, deleted_at, created_at, updated_at`

func scanApartment(row scanner) (property.Apartment, error) {
	var (
		a   property.Apartment
		st  string
		del sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.BuildingID, &a.Number, &a.Floor, &a.OwnerName,
		&a.Shares.Common, &a.Shares.Elevator, &a.Shares.Heating, &a.Shares.Special, &a.Shares.OwnerBorne, &a.Shares.Other,
		&st, &del, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return property.Apartment{}, err
	}
	a.Status = lifecycle(st, del)
	return a, nil
}

func (s *Store) CreateApartment(ctx context.Context, a property.Apartment) (property.Apartment, error) {
	out, err := scanApartment(s.conn(ctx).QueryRowContext(ctx, `
		insert into apartments (id, building_id, number, floor, owner_name,
			share_common, share_elevator, share_heating, share_special, share_owner_borne, share_other,
			state, deleted_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		returning `+apartmentColumns,
		a.ID, a.BuildingID, a.Number, a.Floor, a.OwnerName,
		a.Shares.Common, a.Shares.Elevator, a.Shares.Heating, a.Shares.Special, a.Shares.OwnerBorne, a.Shares.Other,
		state(a.Status), deletedAt(a.Status), a.CreatedAt, a.UpdatedAt))
	if err != nil {
		return property.Apartment{}, translate(err, property.ErrConflict, notFound(property.KindBuilding, a.BuildingID))
	}
	return out, nil
}

func (s *Store) getApartment(ctx context.Context, id, suffix string) (property.Apartment, error) {
	a, err := scanApartment(s.conn(ctx).QueryRowContext(ctx, `select `+apartmentColumns+` from apartments where id = $1`+suffix, id))
	if err != nil {
		return property.Apartment{}, translate(err, property.ErrConflict, notFound(property.KindApartment, id))
	}
	return a, nil
}

func (s *Store) GetApartment(ctx context.Context, id string) (property.Apartment, error) {
	return s.getApartment(ctx, id, "")
}

func (s *Store) GetApartmentForUpdate(ctx context.Context, id string) (property.Apartment, error) {
	return s.getApartment(ctx, id, " for update")
}

func (s *Store) ListApartments(ctx context.Context, f property.ListFilter) ([]property.Apartment, error) {
	query, args, ok := listQuery(`select `+apartmentColumns+` from apartments`, "building_id", f)
	if !ok {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanApartment)
}

func (s *Store) UpdateApartment(ctx context.Context, a property.Apartment) (property.Apartment, error) {
	out, err := scanApartment(s.conn(ctx).QueryRowContext(ctx, `
		update apartments set number = $2, floor = $3, owner_name = $4,
			share_common = $5, share_elevator = $6, share_heating = $7, share_special = $8,
			share_owner_borne = $9, share_other = $10, state = $11, deleted_at = $12, updated_at = $13
		where id = $1
		returning `+apartmentColumns,
		a.ID, a.Number, a.Floor, a.OwnerName,
		a.Shares.Common, a.Shares.Elevator, a.Shares.Heating, a.Shares.Special, a.Shares.OwnerBorne, a.Shares.Other,
		state(a.Status), deletedAt(a.Status), touched(a.UpdatedAt)))
	if err != nil {
		return property.Apartment{}, translate(err, property.ErrConflict, notFound(property.KindApartment, a.ID))
	}
	return out, nil
}

// Expenses

const expenseColumns = `id, building_id, category, description, amount_cents, incurred_on, state, deleted_at, created_at, updated_at`

func scanExpense(row scanner) (property.Expense, error) {
	var (
		e   property.Expense
		cat string
		st  string
		del sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.BuildingID, &cat, &e.Description, &e.AmountCents, &e.IncurredOn, &st, &del, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return property.Expense{}, err
	}
	e.Category = property.Category(cat)
	e.Status = lifecycle(st, del)
	return e, nil
}

func (s *Store) CreateExpense(ctx context.Context, e property.Expense) (property.Expense, error) {
	out, err := scanExpense(s.conn(ctx).QueryRowContext(ctx, `
		insert into expenses (id, building_id, category, description, amount_cents, incurred_on, state, deleted_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+expenseColumns,
		e.ID, e.BuildingID, string(e.Category), e.Description, e.AmountCents, e.IncurredOn,
		state(e.Status), deletedAt(e.Status), e.CreatedAt, e.UpdatedAt))
	if err != nil {
		return property.Expense{}, translate(err, property.ErrConflict, notFound(property.KindBuilding, e.BuildingID))
	}
	return out, nil
}

func (s *Store) getExpense(ctx context.Context, id, suffix string) (property.Expense, error) {
	e, err := scanExpense(s.conn(ctx).QueryRowContext(ctx, `select `+expenseColumns+` from expenses where id = $1`+suffix, id))
	if err != nil {
		return property.Expense{}, translate(err, property.ErrConflict, notFound(property.KindExpense, id))
	}
	return e, nil
}

func (s *Store) GetExpense(ctx context.Context, id string) (property.Expense, error) {
	return s.getExpense(ctx, id, "")
}

func (s *Store) GetExpenseForUpdate(ctx context.Context, id string) (property.Expense, error) {
	return s.getExpense(ctx, id, " for update")
}

func (s *Store) ListExpenses(ctx context.Context, f property.ListFilter) ([]property.Expense, error) {
	query, args, ok := listQuery(`select `+expenseColumns+` from expenses`, "building_id", f)
	if !ok {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanExpense)
}

func (s *Store) UpdateExpense(ctx context.Context, e property.Expense) (property.Expense, error) {
	out, err := scanExpense(s.conn(ctx).QueryRowContext(ctx, `
		update expenses set category = $2, description = $3, amount_cents = $4, incurred_on = $5,
			state = $6, deleted_at = $7, updated_at = $8
		where id = $1
		returning `+expenseColumns,
		e.ID, string(e.Category), e.Description, e.AmountCents, e.IncurredOn,
		state(e.Status), deletedAt(e.Status), touched(e.UpdatedAt)))
	if err != nil {
		return property.Expense{}, translate(err, property.ErrConflict, notFound(property.KindExpense, e.ID))
	}
	return out, nil
}

// Payments

const paymentColumns = `id, building_id, apartment_id, amount_cents, paid_on, reference, state, deleted_at, created_at, updated_at`

func scanPayment(row scanner) (property.Payment, error) {
	var (
		p   property.Payment
		st  string
		del sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.BuildingID, &p.ApartmentID, &p.AmountCents, &p.PaidOn, &p.Reference, &st, &del, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return property.Payment{}, err
	}
	p.Status = lifecycle(st, del)
	return p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p property.Payment) (property.Payment, error) {
	out, err := scanPayment(s.conn(ctx).QueryRowContext(ctx, `
		insert into payments (id, building_id, apartment_id, amount_cents, paid_on, reference, state, deleted_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+paymentColumns,
		p.ID, p.BuildingID, p.ApartmentID, p.AmountCents, p.PaidOn, p.Reference,
		state(p.Status), deletedAt(p.Status), p.CreatedAt, p.UpdatedAt))
	if err != nil {
		return property.Payment{}, translate(err, property.ErrConflict, notFound(property.KindApartment, p.ApartmentID))
	}
	return out, nil
}

func (s *Store) getPayment(ctx context.Context, id, suffix string) (property.Payment, error) {
	p, err := scanPayment(s.conn(ctx).QueryRowContext(ctx, `select `+paymentColumns+` from payments where id = $1`+suffix, id))
	if err != nil {
		return property.Payment{}, translate(err, property.ErrConflict, notFound(property.KindPayment, id))
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (property.Payment, error) {
	return s.getPayment(ctx, id, "")
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id string) (property.Payment, error) {
	return s.getPayment(ctx, id, " for update")
}

func (s *Store) ListPayments(ctx context.Context, f property.ListFilter) ([]property.Payment, error) {
	query, args, ok := listQuery(`select `+paymentColumns+` from payments`, "building_id", f)
	if !ok {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

func (s *Store) UpdatePayment(ctx context.Context, p property.Payment) (property.Payment, error) {
	out, err := scanPayment(s.conn(ctx).QueryRowContext(ctx, `
		update payments set amount_cents = $2, paid_on = $3, reference = $4,
			state = $5, deleted_at = $6, updated_at = $7
		where id = $1
		returning `+paymentColumns,
		p.ID, p.AmountCents, p.PaidOn, p.Reference,
		state(p.Status), deletedAt(p.Status), touched(p.UpdatedAt)))
	if err != nil {
		return property.Payment{}, translate(err, property.ErrConflict, notFound(property.KindPayment, p.ID))
	}
	return out, nil
}

func touched(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
