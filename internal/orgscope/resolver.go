// Package orgscope decides which organizations a caller may read from and
// write to. It looks exactly one hop up or down the organization tree.
package orgscope

import (
	"context"
	"errors"
	"fmt"

	"tasktrail.org/internal/auth"
)

// ErrOrganizationNotFound is returned when the caller's own organization is
// missing from the store.
var ErrOrganizationNotFound = errors.New("orgscope: organization not found")

// Resolver evaluates organization scope rules against an organization store.
type Resolver struct {
	orgs auth.OrganizationStore
}

// NewResolver returns a resolver reading organizations from orgs.
func NewResolver(orgs auth.OrganizationStore) *Resolver {
	return &Resolver{orgs: orgs}
}

// Organization loads the caller's organization, mapping a missing row to
// ErrOrganizationNotFound.
func (r *Resolver) Organization(ctx context.Context, id *auth.Identity) (*auth.Organization, error) {
	if id == nil {
		return nil, auth.ErrUnauthorized
	}
	org, err := r.orgs.FindOrganization(ctx, id.OrganizationID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, id.OrganizationID)
		}
		return nil, err
	}
	return org, nil
}

// ReadScope lists the organizations whose records the caller may list. Viewers
// see their own organization; admins and owners also see its parent. Child
// organizations are not included.
func (r *Resolver) ReadScope(ctx context.Context, id *auth.Identity) ([]string, error) {
	org, err := r.Organization(ctx, id)
	if err != nil {
		return nil, err
	}
	scope := []string{org.ID}
	if id.Role != auth.RoleViewer && org.HasParent() {
		scope = append(scope, *org.ParentID)
	}
	return scope, nil
}

// CanAccess reports whether the caller may read a record owned by
// organization target. Unlike ReadScope, admins and owners may also reach
// direct child organizations.
func (r *Resolver) CanAccess(ctx context.Context, target string, id *auth.Identity) (bool, error) {
	if id == nil {
		return false, nil
	}
	if target == id.OrganizationID {
		return true, nil
	}
	org, err := r.orgs.FindOrganization(ctx, id.OrganizationID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if id.Role == auth.RoleViewer {
		return false, nil
	}
	if org.HasParent() && *org.ParentID == target {
		return true, nil
	}
	targetOrg, err := r.orgs.FindOrganization(ctx, target)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return targetOrg.HasParent() && *targetOrg.ParentID == id.OrganizationID, nil
}

// CanModify reports whether the caller may change a record owned by
// organization target: non-viewers in the same organization only.
func CanModify(target string, id *auth.Identity) bool {
	if id == nil || id.Role == auth.RoleViewer {
		return false
	}
	return target == id.OrganizationID
}
