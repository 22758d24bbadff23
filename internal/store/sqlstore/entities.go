package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tasktrail.org/internal/audit"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/tasks"
)

const (
	orgColumns   = `id, name, parent_id, created_at, updated_at`
	userColumns  = `id, email, password_hash, role, organization_id, created_at, updated_at`
	taskColumns  = `id, title, description, status, category, organization_id, created_by_id, assigned_to_id, created_at, updated_at`
	auditColumns = `id, action, resource_type, resource_id, user_id, details, created_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateOrganization(ctx context.Context, org *auth.Organization) error {
	_, err := s.db.ExecContext(ctx, `insert into organizations(`+orgColumns+`) values ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, nullString(org.ParentID), org.CreatedAt.UTC(), org.UpdatedAt.UTC())
	return classify(err)
}

func (s *Store) FindOrganization(ctx context.Context, id string) (*auth.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where id = $1`, id))
}

func (s *Store) FindOrganizationByName(ctx context.Context, name string) (*auth.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where name = $1 order by created_at asc limit 1`, name))
}

func scanOrg(row scanner) (*auth.Organization, error) {
	var org auth.Organization
	var parent sql.NullString
	err := row.Scan(&org.ID, &org.Name, &parent, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	org.ParentID = stringPtr(parent)
	return &org, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `insert into users(`+userColumns+`) values ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.OrganizationID, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return classify(err)
}

func (s *Store) FindUser(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
}

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.OrganizationID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

func (s *Store) ListUserIDsByOrganizations(ctx context.Context, orgIDs []string) ([]string, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`select id from users where organization_id in (`+inList(1, len(orgIDs))+`) order by id`,
		stringArgs(orgIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, t *tasks.Task) error {
	_, err := s.db.ExecContext(ctx, `insert into tasks(`+taskColumns+`) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Category), t.OrganizationID, t.CreatedByID,
		nullString(t.AssignedToID), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	return classify(err)
}

func (s *Store) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `select `+taskColumns+` from tasks where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return t, err
}

// UpdateTask writes the mutable columns. Organization and creator never change.
func (s *Store) UpdateTask(ctx context.Context, t *tasks.Task) error {
	res, err := s.db.ExecContext(ctx, `
		update tasks
		set title = $1, description = $2, status = $3, category = $4, assigned_to_id = $5, updated_at = $6
		where id = $7
	`, t.Title, t.Description, string(t.Status), string(t.Category), nullString(t.AssignedToID), t.UpdatedAt.UTC(), t.ID)
	if err != nil {
		return classify(err)
	}
	return expectOneRow(res)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from tasks where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) ListTasksByOrganizations(ctx context.Context, orgIDs []string) ([]tasks.Task, error) {
	out := make([]tasks.Task, 0)
	if len(orgIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+taskColumns+` from tasks where organization_id in (`+inList(1, len(orgIDs))+`) order by created_at desc, id desc`,
		stringArgs(orgIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(row scanner) (*tasks.Task, error) {
	var t tasks.Task
	var status, category string
	var assignee sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &category, &t.OrganizationID, &t.CreatedByID,
		&assignee, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = tasks.Status(status)
	t.Category = tasks.Category(category)
	t.AssignedToID = stringPtr(assignee)
	return &t, nil
}

func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `insert into audit_logs(`+auditColumns+`) values ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Action), e.ResourceType, e.ResourceID, e.UserID, e.Details, e.CreatedAt.UTC())
	return classify(err)
}

// ListAudit returns entries newest first. Ids are ULIDs, so they break
// created_at ties in insertion order.
func (s *Store) ListAudit(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = audit.DefaultLimit
	}
	query := `select ` + auditColumns + ` from audit_logs`
	args := stringArgs(q.UserIDs)
	if len(q.UserIDs) > 0 {
		query += ` where user_id in (` + inList(1, len(q.UserIDs)) + `)`
	}
	query += fmt.Sprintf(` order by created_at desc, id desc limit $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var action string
		if err := rows.Scan(&e.ID, &action, &e.ResourceType, &e.ResourceID, &e.UserID, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
