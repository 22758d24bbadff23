package auth

import "fmt"

// Requirement declares what an operation demands from its caller. Empty
// fields impose no constraint.
type Requirement struct {
	Roles       []Role
	Permissions []Permission
}

// Authorize reports whether role holds every required permission.
func Authorize(role Role, required ...Permission) bool {
	for _, p := range required {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// AuthorizeRole reports whether role ranks at least as high as the most
// privileged of the acceptable roles.
func AuthorizeRole(role Role, acceptable ...Role) bool {
	if len(acceptable) == 0 {
		return true
	}
	needed := 0
	for _, r := range acceptable {
		if lvl := r.Level(); lvl > needed {
			needed = lvl
		}
	}
	return role.Level() >= needed
}

// Check runs the guard pipeline for id against req: identity, then role,
// then permissions. The first failing stage decides the error.
func Check(id *Identity, req Requirement) error {
	if id == nil || id.UserID == "" {
		return ErrUnauthorized
	}
	if !AuthorizeRole(id.Role, req.Roles...) {
		return fmt.Errorf("%w: role %q not permitted", ErrForbidden, id.Role)
	}
	for _, p := range req.Permissions {
		if !HasPermission(id.Role, p) {
			return fmt.Errorf("%w: missing permission %s", ErrForbidden, p)
		}
	}
	return nil
}
