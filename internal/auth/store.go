package auth

import "context"

// OrganizationStore reads organizations. Organizations are created out of
// band, so the core never writes them.
type OrganizationStore interface {
	FindOrganization(ctx context.Context, id string) (*Organization, error)
}

// UserStore manages user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUserIDsByOrganizations(ctx context.Context, orgIDs []string) ([]string, error)
}
