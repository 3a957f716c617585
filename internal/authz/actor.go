package authz

import "strings"

// Actor is the verified caller of one request. It is immutable once built.
type Actor struct {
	ID    string
	Email string

	bindings []RoleBinding
}

// NewActor builds an actor from the bindings loaded for it.
func NewActor(id, email string, bindings []RoleBinding) Actor {
	cp := make([]RoleBinding, len(bindings))
	copy(cp, bindings)
	return Actor{
		ID:       strings.TrimSpace(id),
		Email:    strings.TrimSpace(strings.ToLower(email)),
		bindings: cp,
	}
}

// Bindings returns a copy of the actor's role bindings.
func (a Actor) Bindings() []RoleBinding {
	out := make([]RoleBinding, len(a.bindings))
	copy(out, a.bindings)
	return out
}

// HasRole reports whether any binding carries role, whatever its scope.
func (a Actor) HasRole(role Role) bool {
	for _, b := range a.bindings {
		if b.Role == role {
			return true
		}
	}
	return false
}

func (a Actor) Authenticated() bool { return a.ID != "" }
