// Package authz provides the identity and role primitives used to gate
// configuration status transitions. Authentication happens elsewhere; this
// package only carries the resolved principal.
package authz

import (
	"fmt"
	"strings"
)

// Role is the caller's role for lifecycle decisions.
type Role string

const (
	RoleEngineer      Role = "Engineer"
	RoleAdministrator Role = "Administrator"
)

// String returns the role name.
func (r Role) String() string { return string(r) }

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleEngineer || r == RoleAdministrator
}

// ParseRole parses a role name case-insensitively. "admin" is accepted as
// shorthand for Administrator.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "engineer":
		return RoleEngineer, nil
	case "administrator", "admin":
		return RoleAdministrator, nil
	default:
		return "", fmt.Errorf("unknown role %q (expected Engineer or Administrator)", s)
	}
}

// Principal is an authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdministrator reports whether the principal holds the Administrator role.
func (p Principal) IsAdministrator() bool { return p.Role == RoleAdministrator }

// Validate checks that the principal is usable for a role-gated call.
func (p Principal) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("principal has no user id")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("principal %q has unknown role %q", p.UserID, p.Role)
	}
	return nil
}
