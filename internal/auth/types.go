package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the single role a user holds inside its organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Roles lists the known roles from most to least privileged.
var Roles = []Role{RoleOwner, RoleAdmin, RoleViewer}

// ParseRole normalizes s and returns the matching role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleViewer:
		return true
	}
	return false
}

// Level places r in the role hierarchy. Unknown roles rank below viewer.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// Organization is a tenant. ParentID is nil for root organizations.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasParent reports whether the organization sits below another one.
func (o *Organization) HasParent() bool {
	return o != nil && o.ParentID != nil && *o.ParentID != ""
}

// User is an account bound to exactly one organization with one role.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	OrganizationID string    `json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Identity returns the caller identity the core operations expect.
func (u *User) Identity() *Identity {
	if u == nil {
		return nil
	}
	return &Identity{UserID: u.ID, Email: u.Email, Role: u.Role, OrganizationID: u.OrganizationID}
}

// View strips the user down to the fields returned to clients.
func (u *User) View() UserView {
	return UserView{ID: u.ID, Email: u.Email, Role: u.Role, OrganizationID: u.OrganizationID}
}

// Identity is an authenticated caller. Every core operation receives it
// explicitly; a nil identity is always denied.
type Identity struct {
	UserID         string
	Email          string
	Role           Role
	OrganizationID string
}

// UserView is the public projection of a user.
type UserView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organizationId"`
}
