package httpapi

import (
	"context"
	"net/http"

	"estatly.org/internal/authz"
	"estatly.org/internal/property"
)

// collection serves GET (list) and POST (create) on a resource collection.
type collection[T, In any] struct {
	path   string
	list   func(ctx context.Context, actor authz.Actor, opts property.ListOptions) ([]T, error)
	create func(ctx context.Context, actor authz.Actor, in In) (T, error)
	id     func(T) string
}

func serveCollection[T, In any](a *API, w http.ResponseWriter, r *http.Request, c collection[T, In]) {
	switch r.Method {
	case http.MethodGet:
		opts, err := listOptions(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		items, err := c.list(r.Context(), actorFrom(r), opts)
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page(items, opts.Limit, c.id))
	case http.MethodPost:
		var in In
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		created, err := c.create(r.Context(), actorFrom(r), in)
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		w.Header().Set("Location", c.path+c.id(created))
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// item serves GET, PATCH and DELETE on one resource.
type item[T, Patch any] struct {
	get    func(ctx context.Context, actor authz.Actor, id string) (T, error)
	update func(ctx context.Context, actor authz.Actor, id string, p Patch) (T, error)
	remove func(ctx context.Context, actor authz.Actor, id string) (T, error)
}

func serveItem[T, Patch any](a *API, w http.ResponseWriter, r *http.Request, id string, it item[T, Patch]) {
	var (
		out T
		err error
	)
	switch r.Method {
	case http.MethodGet:
		out, err = it.get(r.Context(), actorFrom(r), id)
	case http.MethodPatch:
		var p Patch
		if derr := decodeJSON(w, r, &p); derr != nil {
			writeError(w, r, http.StatusBadRequest, derr.Error())
			return
		}
		out, err = it.update(r.Context(), actorFrom(r), id, p)
	case http.MethodDelete:
		out, err = it.remove(r.Context(), actorFrom(r), id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		return
	}
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func listOptions(r *http.Request) (property.ListOptions, error) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), property.DefaultListLimit, 1, property.MaxListLimit)
	if err != nil {
		return property.ListOptions{}, err
	}
	deleted, err := parseBool(q.Get("include_deleted"))
	if err != nil {
		return property.ListOptions{}, err
	}
	return property.ListOptions{IncludeDeleted: deleted, AfterID: q.Get("after"), Limit: limit}, nil
}

func (a *API) handleBuildings(w http.ResponseWriter, r *http.Request) {
	svc := a.svc.Property
	serveCollection(a, w, r, collection[property.Building, property.BuildingInput]{
		path:   "/v1/buildings/",
		list:   svc.ListBuildings,
		create: svc.CreateBuilding,
		id:     func(b property.Building) string { return b.ID },
	})
}

// handleBuildingResource serves /v1/buildings/{id} and its child collections.
func (a *API) handleBuildingResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/buildings/")
	svc := a.svc.Property
	switch {
	case len(parts) == 1:
		serveItem(a, w, r, parts[0], item[property.Building, property.BuildingPatch]{
			get:    svc.GetBuilding,
			update: svc.UpdateBuilding,
			remove: svc.DeleteBuilding,
		})
	case len(parts) == 2:
		buildingID := parts[0]
		switch parts[1] {
		case "apartments":
			serveCollection(a, w, r, collection[property.Apartment, property.ApartmentInput]{
				path: "/v1/apartments/",
				list: func(ctx context.Context, actor authz.Actor, opts property.ListOptions) ([]property.Apartment, error) {
					return svc.ListApartments(ctx, actor, buildingID, opts)
				},
				create: func(ctx context.Context, actor authz.Actor, in property.ApartmentInput) (property.Apartment, error) {
					return svc.CreateApartment(ctx, actor, buildingID, in)
				},
				id: func(ap property.Apartment) string { return ap.ID },
			})
		case "expenses":
			serveCollection(a, w, r, collection[property.Expense, property.ExpenseInput]{
				path: "/v1/expenses/",
				list: func(ctx context.Context, actor authz.Actor, opts property.ListOptions) ([]property.Expense, error) {
					return svc.ListExpenses(ctx, actor, buildingID, opts)
				},
				create: func(ctx context.Context, actor authz.Actor, in property.ExpenseInput) (property.Expense, error) {
					return svc.CreateExpense(ctx, actor, buildingID, in)
				},
				id: func(e property.Expense) string { return e.ID },
			})
		case "payments":
			serveCollection(a, w, r, collection[property.Payment, property.PaymentInput]{
				path: "/v1/payments/",
				list: func(ctx context.Context, actor authz.Actor, opts property.ListOptions) ([]property.Payment, error) {
					return svc.ListPayments(ctx, actor, buildingID, opts)
				},
				create: func(ctx context.Context, actor authz.Actor, in property.PaymentInput) (property.Payment, error) {
					return svc.CreatePayment(ctx, actor, buildingID, in)
				},
				id: func(p property.Payment) string { return p.ID },
			})
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleApartmentResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/apartments/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	svc := a.svc.Property
	serveItem(a, w, r, parts[0], item[property.Apartment, property.ApartmentPatch]{
		get:    svc.GetApartment,
		update: svc.UpdateApartment,
		remove: svc.DeleteApartment,
	})
}

func (a *API) handleExpenseResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/expenses/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	svc := a.svc.Property
	serveItem(a, w, r, parts[0], item[property.Expense, property.ExpensePatch]{
		get:    svc.GetExpense,
		update: svc.UpdateExpense,
		remove: svc.DeleteExpense,
	})
}

func (a *API) handlePaymentResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/payments/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	svc := a.svc.Property
	serveItem(a, w, r, parts[0], item[property.Payment, property.PaymentPatch]{
		get:    svc.GetPayment,
		update: svc.UpdatePayment,
		remove: svc.DeletePayment,
	})
}
