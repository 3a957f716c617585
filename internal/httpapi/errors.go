package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"estatly.org/internal/audit"
	"estatly.org/internal/auth"
	"estatly.org/internal/authz"
	"estatly.org/internal/obs"
	"estatly.org/internal/property"
)

// handleError maps domain errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		unauthorized(w, r, "invalid credentials")
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		unauthorized(w, r, "unauthenticated")
	case errors.Is(err, authz.ErrUnauthorized):
		reason, _ := authz.DenialReason(err)
		writeErrorBody(w, r, http.StatusForbidden, map[string]any{
			"error":  "forbidden",
			"reason": string(reason),
		})
	case errors.Is(err, property.ErrNotFound), errors.Is(err, auth.ErrNotFound), errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, property.ErrConflict), errors.Is(err, auth.ErrAlreadyExists), errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, property.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput), errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrStreamDisabled):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		obs.ResolveLogger(a.logger).ErrorContext(r.Context(), "request_failed",
			slog.String("request_id", audit.RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
