package httpapi

import (
	"encoding/json"
	"net/http"

	"estatly.org/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type grantRequest struct {
	Role     string          `json:"role"`
	TenantID json.RawMessage `json:"tenant_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.svc.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Auth.CreateUser(r.Context(), actorFrom(r), req.Email, req.Password)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// handleUserResource serves /v1/users/{id}/bindings.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/users/")
	if len(parts) != 2 || parts[1] != "bindings" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch r.Method {
	case http.MethodGet:
		list, err := a.svc.Auth.Bindings(r.Context(), actorFrom(r), userID)
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page(list, 0, bindingID))
	case http.MethodPost:
		a.grantRole(w, r, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) grantRole(w http.ResponseWriter, r *http.Request, userID string) {
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := authz.ParseRole(req.Role)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var scope authz.Scope
	if len(req.TenantID) > 0 {
		if err := json.Unmarshal(req.TenantID, &scope); err != nil {
			writeError(w, r, http.StatusBadRequest, "tenant_id must be a string or null")
			return
		}
	}
	binding, err := a.svc.Auth.GrantRole(r.Context(), actorFrom(r), userID, role, scope)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/bindings/"+binding.ID)
	writeJSON(w, http.StatusCreated, binding)
}

// handleBindingResource serves DELETE /v1/bindings/{id}.
func (a *API) handleBindingResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/bindings/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	binding, err := a.svc.Auth.RevokeRole(r.Context(), actorFrom(r), parts[0])
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func bindingID(b authz.RoleBinding) string { return b.ID }
