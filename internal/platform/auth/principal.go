package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles recognised by the route guards.
const (
	RoleAdmin        = "admin"
	RoleLabTech      = "lab_tech"
	RolePathologist  = "pathologist"
	RoleReceptionist = "receptionist"
	RolePhysician    = "physician"
	RolePatient      = "patient"
)

// StaffRoles are the roles allowed to review requests and manage results.
var StaffRoles = []string{RoleAdmin, RoleLabTech, RolePathologist, RoleReceptionist}

// Principal is the acting user, passed explicitly into every workflow
// operation.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Roles  []string  `json:"roles"`
}

// IsZero reports whether no user is attached.
func (p Principal) IsZero() bool {
	return p.UserID == uuid.Nil
}

// HasRole is true for an exact match; admin holds every role.
func (p Principal) HasRole(roles ...string) bool {
	for _, has := range p.Roles {
		if has == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware, or
// the zero Principal.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
