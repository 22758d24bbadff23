// Package memstore keeps every entity in process memory. It backs tests and
// the "memory" database driver.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tasktrail.org/internal/audit"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/store"
	"tasktrail.org/internal/tasks"
)

// Store implements store.Store with in-process concurrency safety.
type Store struct {
	mu        sync.RWMutex
	orgs      map[string]*auth.Organization
	users     map[string]*auth.User
	emails    map[string]string // email -> user id
	tasks     map[string]*tasks.Task
	taskOrder []string
	audit     []audit.Entry
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		orgs:   make(map[string]*auth.Organization),
		users:  make(map[string]*auth.User),
		emails: make(map[string]string),
		tasks:  make(map[string]*tasks.Task),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateOrganization(_ context.Context, org *auth.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return fmt.Errorf("%w: organization %s exists", auth.ErrConflict, org.ID)
	}
	if org.HasParent() {
		if _, ok := s.orgs[*org.ParentID]; !ok {
			return fmt.Errorf("%w: parent organization %s", auth.ErrInvalidReference, *org.ParentID)
		}
	}
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

func (s *Store) FindOrganization(_ context.Context, id string) (*auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneOrg(org), nil
}

func (s *Store) FindOrganizationByName(_ context.Context, name string) (*auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.Name == name {
			return cloneOrg(org), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s exists", auth.ErrConflict, u.ID)
	}
	if _, ok := s.orgs[u.OrganizationID]; !ok {
		return fmt.Errorf("%w: organization %s", auth.ErrInvalidReference, u.OrganizationID)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Store) FindUser(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) ListUserIDsByOrganizations(_ context.Context, orgIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := toSet(orgIDs)
	var out []string
	for id, u := range s.users {
		if _, ok := want[u.OrganizationID]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CreateTask(_ context.Context, t *tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task %s exists", auth.ErrConflict, t.ID)
	}
	if err := s.checkTaskRefs(t); err != nil {
		return err
	}
	s.tasks[t.ID] = cloneTask(t)
	s.taskOrder = append(s.taskOrder, t.ID)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*tasks.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) UpdateTask(_ context.Context, t *tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return auth.ErrNotFound
	}
	if err := s.checkTaskRefs(t); err != nil {
		return err
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.tasks, id)
	for i, tid := range s.taskOrder {
		if tid == id {
			s.taskOrder = append(s.taskOrder[:i], s.taskOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListTasksByOrganizations(_ context.Context, orgIDs []string) ([]tasks.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := toSet(orgIDs)
	out := make([]tasks.Task, 0)
	// newest insert first, then a stable sort keeps that order for equal timestamps
	for i := len(s.taskOrder) - 1; i >= 0; i-- {
		t := s.tasks[s.taskOrder[i]]
		if _, ok := want[t.OrganizationID]; ok {
			out = append(out, *cloneTask(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AppendAudit(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[e.UserID]; !ok {
		return fmt.Errorf("%w: user %s", auth.ErrInvalidReference, e.UserID)
	}
	s.audit = append(s.audit, *e)
	return nil
}

func (s *Store) ListAudit(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := q.Limit
	if limit <= 0 {
		limit = audit.DefaultLimit
	}
	actors := toSet(q.UserIDs)
	out := make([]audit.Entry, 0)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.audit[i]
		if len(actors) > 0 {
			if _, ok := actors[e.UserID]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) checkTaskRefs(t *tasks.Task) error {
	if _, ok := s.orgs[t.OrganizationID]; !ok {
		return fmt.Errorf("%w: organization %s", auth.ErrInvalidReference, t.OrganizationID)
	}
	if _, ok := s.users[t.CreatedByID]; !ok {
		return fmt.Errorf("%w: user %s", auth.ErrInvalidReference, t.CreatedByID)
	}
	if t.AssignedToID != nil {
		if _, ok := s.users[*t.AssignedToID]; !ok {
			return fmt.Errorf("%w: assignee %s", auth.ErrInvalidReference, *t.AssignedToID)
		}
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func cloneOrg(o *auth.Organization) *auth.Organization {
	cp := *o
	if o.ParentID != nil {
		parent := *o.ParentID
		cp.ParentID = &parent
	}
	return &cp
}

func cloneTask(t *tasks.Task) *tasks.Task {
	cp := *t
	if t.AssignedToID != nil {
		assignee := *t.AssignedToID
		cp.AssignedToID = &assignee
	}
	return &cp
}
