// Package store defines the entity store the API server runs against.
// Implementations live in sqlstore and memstore.
package store

import (
	"context"

	"tasktrail.org/internal/audit"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/tasks"
)

// OrganizationWriter creates organizations. Only the seed flow uses it.
type OrganizationWriter interface {
	CreateOrganization(ctx context.Context, org *auth.Organization) error
	FindOrganizationByName(ctx context.Context, name string) (*auth.Organization, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	auth.OrganizationStore
	auth.UserStore
	OrganizationWriter
	tasks.Store
	audit.Store

	Ping(ctx context.Context) error
	Close() error
}
