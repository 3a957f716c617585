package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"estatly.org/internal/audit"
	"estatly.org/internal/auth"
	"estatly.org/internal/authz"
	"estatly.org/internal/property"
)

// passThrough lets slice arguments reach the mock the way pgx accepts them.
type passThrough struct{}

func (passThrough) ConvertValue(v any) (driver.Value, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}
	return v, nil
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passThrough{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

var bindingCols = []string{"id", "user_id", "role", "tenant_id", "created_at"}

func TestCreateBindingConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into role_bindings .* on conflict do nothing\\s+returning").
		WithArgs(sqlmock.AnyArg(), "u1", "BUILDING_ADMIN", sql.NullString{String: "B1", Valid: true}, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(bindingCols))

	_, err := store.Create(context.Background(), authz.RoleBinding{UserID: "u1", Role: authz.RoleBuildingAdmin, Scope: authz.TenantScope("B1")})
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateBindingUnknownUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into role_bindings").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := store.Create(context.Background(), authz.RoleBinding{UserID: "u9", Role: authz.RoleReadOnly})
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureBindingLostRaceInsideTx(t *testing.T) {
	store, mock := newMock(t)
	findQuery := "select .* from role_bindings\\s+where user_id = \\$1 and role = \\$2"
	mock.ExpectBegin()
	mock.ExpectQuery(findQuery).WithArgs("u1", "SUPER_ADMIN", "").WillReturnError(sql.ErrNoRows)
	// the other provisioner committed first; the insert does nothing
	mock.ExpectQuery("insert into role_bindings .* on conflict do nothing").WillReturnRows(sqlmock.NewRows(bindingCols))
	mock.ExpectQuery(findQuery).WithArgs("u1", "SUPER_ADMIN", "").
		WillReturnRows(sqlmock.NewRows(bindingCols).AddRow("b1", "u1", "SUPER_ADMIN", nil, now))
	mock.ExpectCommit()

	var (
		got     authz.RoleBinding
		created bool
	)
	err := store.InTx(context.Background(), func(ctx context.Context) error {
		var err error
		got, created, err = authz.EnsureBinding(ctx, store, "u1", authz.RoleSuperAdmin, authz.GlobalScope())
		return err
	})
	if err != nil {
		t.Fatalf("EnsureBinding: %v", err)
	}
	if created || got.ID != "b1" || !got.Scope.IsGlobal() {
		t.Fatalf("expected the winner's binding, got %+v created=%v", got, created)
	}
}

func TestCreateGlobalBindingStoresNullTenant(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into role_bindings").
		WithArgs("b1", "u1", "SUPER_ADMIN", sql.NullString{}, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role", "tenant_id", "created_at"}).
			AddRow("b1", "u1", "SUPER_ADMIN", nil, now))

	b, err := store.Create(context.Background(), authz.RoleBinding{ID: "b1", UserID: "u1", Role: authz.RoleSuperAdmin, CreatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !b.Scope.IsGlobal() {
		t.Fatalf("expected global scope, got %s", b.Scope)
	}
}

func TestFindExistingNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select .* from role_bindings\\s+where user_id = \\$1 and role = \\$2 and coalesce\\(tenant_id, ''\\) = \\$3").
		WithArgs("u1", "SUPER_ADMIN", "").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.FindExisting(context.Background(), "u1", authz.RoleSuperAdmin, authz.GlobalScope()); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBindingsForScansScopes(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select .* from role_bindings where user_id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role", "tenant_id", "created_at"}).
			AddRow("b1", "u1", "BUILDING_ADMIN", "B1", now).
			AddRow("b2", "u1", "READ_ONLY", nil, now))

	list, err := store.BindingsFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("BindingsFor: %v", err)
	}
	if len(list) != 2 || list[0].TenantID() != "B1" || !list[1].Scope.IsGlobal() {
		t.Fatalf("unexpected bindings %+v", list)
	}
}

func TestRevokeMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("delete from role_bindings where id = \\$1 returning").WithArgs("b9").WillReturnError(sql.ErrNoRows)
	if _, err := store.Revoke(context.Background(), "b9"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInTxCommitsAndLocks(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "name", "address", "state", "deleted_at", "created_at", "updated_at"}
	mock.ExpectBegin()
	mock.ExpectQuery("select .* from buildings where id = \\$1 for update").WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("b1", "Tower", "", "ACTIVE", nil, now, now))
	mock.ExpectQuery("update buildings set").
		WithArgs("b1", "Tower East", "", "ACTIVE", sql.NullTime{}, now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("b1", "Tower East", "", "ACTIVE", nil, now, now))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context) error {
		b, err := store.GetBuildingForUpdate(ctx, "b1")
		if err != nil {
			return err
		}
		b.Name = "Tower East"
		b.UpdatedAt = now
		_, err = store.UpdateBuilding(ctx, b)
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select .* from apartments where id = \\$1 for update").WithArgs("a1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context) error {
		_, err := store.GetApartmentForUpdate(ctx, "a1")
		return err
	})
	if !errors.Is(err, property.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeletedBuildingRoundTrip(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "name", "address", "state", "deleted_at", "created_at", "updated_at"}
	mock.ExpectQuery("update buildings set").
		WithArgs("b1", "Tower", "", "DELETED", sql.NullTime{Time: now, Valid: true}, now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("b1", "Tower", "", "DELETED", now, now, now))

	b, err := store.UpdateBuilding(context.Background(), property.Building{ID: "b1", Name: "Tower", Status: property.DeletedAt(now), UpdatedAt: now})
	if err != nil {
		t.Fatalf("UpdateBuilding: %v", err)
	}
	if !b.Status.Deleted() || !b.Status.DeletedAt.Equal(now) {
		t.Fatalf("unexpected status %+v", b.Status)
	}
}

func TestListBuildingsByTenant(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "name", "address", "state", "deleted_at", "created_at", "updated_at"}
	mock.ExpectQuery("select .* from buildings where state = \\$1 and id = any\\(\\$2\\) and id > \\$3 order by id limit \\$4").
		WithArgs("ACTIVE", []string{"B1"}, "B0", 10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("B1", "One", "", "ACTIVE", nil, now, now))

	list, err := store.ListBuildings(context.Background(), property.ListFilter{Tenants: []string{"B1"}, AfterID: "B0", Limit: 10})
	if err != nil {
		t.Fatalf("ListBuildings: %v", err)
	}
	if len(list) != 1 || list[0].ID != "B1" {
		t.Fatalf("unexpected list %+v", list)
	}

	none, err := store.ListBuildings(context.Background(), property.ListFilter{Tenants: []string{}})
	if err != nil || none != nil {
		t.Fatalf("empty tenant set must not query: %v %v", none, err)
	}
}

func TestCreateApartmentMapsConstraints(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into apartments").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectQuery("insert into apartments").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	a := property.Apartment{ID: "a1", BuildingID: "b1", Number: "1", Status: property.Active(), CreatedAt: now, UpdatedAt: now}
	if _, err := store.CreateApartment(context.Background(), a); !errors.Is(err, property.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := store.CreateApartment(context.Background(), a); !errors.Is(err, property.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into users").
		WithArgs("u1", "a@example.com", "hash", now, now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	_, err := store.CreateUser(context.Background(), auth.User{ID: "u1", Email: " A@example.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAuditRecordCustomAction(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into audit_entries").
		WithArgs("e9", sql.NullString{String: "u1", Valid: true}, "EXPORT", "report", "r1", nil, nil, []byte(`{"format":"csv"}`), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context) error {
		return store.Record(ctx, audit.Entry{
			ID: "e9", ActorID: audit.ActorRef("u1"), Action: audit.Action("EXPORT"),
			EntityKind: "report", EntityID: "r1",
			Metadata: map[string]string{"format": "csv"}, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("Record custom action: %v", err)
	}
}

func TestAuditRecordAndList(t *testing.T) {
	store, mock := newMock(t)
	after := json.RawMessage(`{"name":"Tower"}`)
	mock.ExpectExec("insert into audit_entries").
		WithArgs("e1", sql.NullString{String: "u1", Valid: true}, "CREATE", "building", "b1", nil, []byte(after), []byte(`{"request_id":"r1"}`), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Record(context.Background(), audit.Entry{
		ID: "e1", ActorID: audit.ActorRef("u1"), Action: audit.ActionCreate,
		EntityKind: "building", EntityID: "b1", After: after,
		Metadata: map[string]string{"request_id": "r1"}, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	cols := []string{"id", "actor_id", "action", "entity_kind", "entity_id", "before", "after", "metadata", "created_at"}
	mock.ExpectQuery("select .* from audit_entries where entity_kind = \\$1 and actor_id = \\$2 order by id limit \\$3").
		WithArgs("building", "u1", audit.DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "u1", "CREATE", "building", "b1", nil, []byte(after), []byte(`{"request_id":"r1"}`), now).
			AddRow("e2", nil, "DELETE", "building", "b1", []byte(after), nil, []byte(`{}`), now))

	list, err := store.List(context.Background(), audit.Filter{EntityKind: "building", ActorID: "u1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two entries, got %d", len(list))
	}
	if list[0].Before != nil || string(list[0].After) != string(after) || list[0].Metadata["request_id"] != "r1" {
		t.Fatalf("unexpected first entry %+v", list[0])
	}
	if list[1].ActorID != nil || list[1].After != nil || list[1].Metadata != nil {
		t.Fatalf("unexpected second entry %+v", list[1])
	}
}
