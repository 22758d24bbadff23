package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktrail.org/internal/audit"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/migrate"
	"tasktrail.org/internal/tasks"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background())
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store) time.Time {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	parent := "org-p"
	require.NoError(t, s.CreateOrganization(ctx, &auth.Organization{ID: "org-p", Name: "Parent", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateOrganization(ctx, &auth.Organization{ID: "org-a", Name: "A", ParentID: &parent, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateUser(ctx, &auth.User{ID: "u1", Email: "a@example.com", PasswordHash: "h", Role: auth.RoleOwner, OrganizationID: "org-a", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateUser(ctx, &auth.User{ID: "u2", Email: "p@example.com", PasswordHash: "h", Role: auth.RoleAdmin, OrganizationID: "org-p", CreatedAt: now, UpdatedAt: now}))
	return now
}

func TestSQLiteOrganizationsAndUsers(t *testing.T) {
	s := openSQLite(t)
	now := seed(t, s)
	ctx := context.Background()

	org, err := s.FindOrganization(ctx, "org-a")
	require.NoError(t, err)
	require.NotNil(t, org.ParentID)
	assert.Equal(t, "org-p", *org.ParentID)
	assert.True(t, org.CreatedAt.Equal(now))

	root, err := s.FindOrganizationByName(ctx, "Parent")
	require.NoError(t, err)
	assert.Nil(t, root.ParentID)

	_, err = s.FindOrganization(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)

	u, err := s.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOwner, u.Role)
	assert.Equal(t, "org-a", u.OrganizationID)

	err = s.CreateUser(ctx, &auth.User{ID: "u3", Email: "a@example.com", PasswordHash: "h", Role: auth.RoleViewer, OrganizationID: "org-a", CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, auth.ErrConflict)

	err = s.CreateUser(ctx, &auth.User{ID: "u4", Email: "z@example.com", PasswordHash: "h", Role: auth.RoleViewer, OrganizationID: "org-z", CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, auth.ErrInvalidReference)

	userIDs, err := s.ListUserIDsByOrganizations(ctx, []string{"org-a", "org-p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, userIDs)

	none, err := s.ListUserIDsByOrganizations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteTasks(t *testing.T) {
	s := openSQLite(t)
	now := seed(t, s)
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		at := now.Add(time.Duration(i) * time.Minute)
		task := &tasks.Task{ID: id, Title: id, Description: "d", Status: tasks.StatusTodo, Category: tasks.CategoryWork,
			OrganizationID: "org-a", CreatedByID: "u1", CreatedAt: at, UpdatedAt: at}
		require.NoError(t, s.CreateTask(ctx, task))
	}
	inP := &tasks.Task{ID: "tp", Title: "p", Description: "d", Status: tasks.StatusDone, Category: tasks.CategoryPersonal,
		OrganizationID: "org-p", CreatedByID: "u2", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateTask(ctx, inP))

	ghost := "ghost"
	bad := &tasks.Task{ID: "tx", Title: "x", Description: "d", Status: tasks.StatusTodo, Category: tasks.CategoryWork,
		OrganizationID: "org-a", CreatedByID: "u1", AssignedToID: &ghost, CreatedAt: now, UpdatedAt: now}
	require.ErrorIs(t, s.CreateTask(ctx, bad), auth.ErrInvalidReference)

	list, err := s.ListTasksByOrganizations(ctx, []string{"org-a"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "t3", list[0].ID)

	both, err := s.ListTasksByOrganizations(ctx, []string{"org-a", "org-p"})
	require.NoError(t, err)
	assert.Len(t, both, 4)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assignee := "u2"
	got.AssignedToID = &assignee
	got.Status = tasks.StatusInProgress
	got.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateTask(ctx, got))

	got, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusInProgress, got.Status)
	require.NotNil(t, got.AssignedToID)
	assert.Equal(t, "u2", *got.AssignedToID)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.GetTask(ctx, "t1")
	require.ErrorIs(t, err, auth.ErrNotFound)
	require.ErrorIs(t, s.DeleteTask(ctx, "t1"), auth.ErrNotFound)
	require.ErrorIs(t, s.UpdateTask(ctx, got), auth.ErrNotFound)
}

func TestSQLiteAudit(t *testing.T) {
	s := openSQLite(t)
	now := seed(t, s)
	ctx := context.Background()

	for i, actor := range []string{"u1", "u2", "u1"} {
		e := &audit.Entry{ID: string(rune('a' + i)), Action: audit.ActionCreateTask, ResourceType: audit.ResourceTask,
			ResourceID: "t", UserID: actor, Details: `{"title":"T"}`, CreatedAt: now.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.AppendAudit(ctx, e))
	}
	require.ErrorIs(t, s.AppendAudit(ctx, &audit.Entry{ID: "z", Action: audit.ActionCreateTask, UserID: "ghost", CreatedAt: now}), auth.ErrInvalidReference)

	all, err := s.ListAudit(ctx, audit.Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, `{"title":"T"}`, all[0].Details)

	mine, err := s.ListAudit(ctx, audit.Query{UserIDs: []string{"u2"}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "b", mine[0].ID)
}

func TestListAuditQueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, migrate.DialectPostgres)

	mock.ExpectQuery(`select .* from audit_logs where user_id in \(\$1, \$2\) order by created_at desc, id desc limit \$3`).
		WithArgs("u1", "u2", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "resource_type", "resource_id", "user_id", "details", "created_at"}))
	_, err = s.ListAudit(context.Background(), audit.Query{UserIDs: []string{"u1", "u2"}, Limit: 100})
	require.NoError(t, err)

	mock.ExpectQuery(`select .* from audit_logs order by created_at desc, id desc limit \$1`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "resource_type", "resource_id", "user_id", "details", "created_at"}))
	_, err = s.ListAudit(context.Background(), audit.Query{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorClassification(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, migrate.DialectPostgres)
	ctx := context.Background()
	u := &auth.User{ID: "u1", Email: "a@example.com", Role: auth.RoleAdmin, OrganizationID: "org-a"}

	mock.ExpectExec("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	require.ErrorIs(t, s.CreateUser(ctx, u), auth.ErrConflict)

	mock.ExpectExec("insert into users").WillReturnError(&pq.Error{Code: pgErrForeignKeyViolation})
	require.ErrorIs(t, s.CreateUser(ctx, u), auth.ErrInvalidReference)

	boom := errors.New("connection refused")
	mock.ExpectExec("insert into users").WillReturnError(boom)
	err = s.CreateUser(ctx, u)
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, auth.ErrConflict))

	mock.ExpectExec("delete from tasks").WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.DeleteTask(ctx, "t1"), auth.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]string{"pgx": migrate.DialectPostgres, "postgres": migrate.DialectPostgres, "sqlite3": migrate.DialectSQLite} {
		got, err := DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DialectFor("mysql")
	require.Error(t, err)
}
