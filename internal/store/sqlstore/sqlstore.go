// Package sqlstore persists entities through database/sql. The same
// statements run on PostgreSQL (pgx or lib/pq) and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/migrate"
	"tasktrail.org/internal/store"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements store.Store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect string
}

var _ store.Store = (*Store)(nil)

// DialectFor maps a database/sql driver name to its migration dialect.
func DialectFor(driver string) (string, error) {
	switch driver {
	case "pgx", "postgres":
		return migrate.DialectPostgres, nil
	case "sqlite3":
		return migrate.DialectSQLite, nil
	}
	return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
}

// Open connects with driver ("pgx", "postgres" or "sqlite3") and tunes the
// pool for it.
func Open(driver, dsn string) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect == migrate.DialectSQLite && !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == migrate.DialectSQLite {
		// single writer; also keeps in-memory databases on one connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// New wraps an existing handle.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the migration dialect of the underlying database.
func (s *Store) Dialect() string { return s.dialect }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies the bundled migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	files, err := migrate.Bundled(s.dialect)
	if err != nil {
		return nil, err
	}
	return migrate.NewManager(s.db, files).Up(ctx)
}

// classify maps driver constraint errors onto the auth sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyCode(string(pqErr.Code), err)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", auth.ErrConflict, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", auth.ErrInvalidReference, err)
		}
	}
	return err
}

func classifyCode(code string, err error) error {
	switch code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %v", auth.ErrConflict, err)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %v", auth.ErrInvalidReference, err)
	}
	return err
}

// inList renders "$start, $start+1, ..." for n values.
func inList(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
