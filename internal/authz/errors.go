package authz

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated       = errors.New("authz: unauthenticated")
	ErrUnauthorized          = errors.New("authz: unauthorized")
	ErrUnregisteredOperation = errors.New("authz: operation has no role declaration")
	ErrDuplicateOperation    = errors.New("authz: operation already registered")
	ErrInvalidInput          = errors.New("authz: invalid input")
	ErrNotFound              = errors.New("authz: not found")
	ErrConflict              = errors.New("authz: binding already exists")
)

// DeniedError carries the reason an authorization request was refused.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authz: denied (%s)", e.Reason)
}

// Is lets errors.Is(err, ErrUnauthorized) match every denial.
func (e *DeniedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// DenialReason extracts the reason from a denial error.
func DenialReason(err error) (Reason, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return "", false
}
