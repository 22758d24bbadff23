package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNothingToRollback is returned by Down when no migration is recorded.
var ErrNothingToRollback = errors.New("migrate: no migrations applied")

//go:embed migrations
var embedded embed.FS

// Dialects with bundled migrations.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Bundled returns the migrations shipped for dialect.
func Bundled(dialect string) (fs.FS, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
		return fs.Sub(embedded, path.Join("migrations", dialect))
	}
	return nil, fmt.Errorf("migrate: no migrations for dialect %q", dialect)
}

// Manager applies *.up.sql files from an fs.FS in name order. Each file runs
// in its own transaction together with its bookkeeping row, so a failed file
// leaves neither schema changes nor a record behind.
type Manager struct {
	db    *sql.DB
	files fs.FS
	table string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the bookkeeping table name.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// NewManager constructs a Manager reading migrations from files.
func NewManager(db *sql.DB, files fs.FS, opts ...Option) *Manager {
	m := &Manager{db: db, files: files, table: defaultMigrationsTable}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the names it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(pending))
	for _, name := range pending {
		err := m.inTx(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.table),
				name, time.Now().UTC())
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	done, err := m.Status(ctx)
	if err != nil {
		return "", err
	}
	if len(done) == 0 {
		return "", ErrNothingToRollback
	}
	last := done[len(done)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.files, down); err != nil {
		return "", fmt.Errorf("migrate: no %s for %s", downSuffix, last)
	}
	err = m.inTx(ctx, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.table), last)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("migrate: rollback %s: %w", last, err)
	}
	return last, nil
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

// Pending lists migrations that Up would apply.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	done, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	all, err := upFiles(m.files)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(name string) bool {
		return slices.Contains(done, name)
	}), nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamp not null default current_timestamp
)`, m.table))
	return err
}

// inTx runs every statement of file and then record inside one transaction.
func (m *Manager) inTx(ctx context.Context, file string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.files, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// history orders by name; migration files carry a sortable numeric prefix.
func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by name asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func upFiles(files fs.FS) ([]string, error) {
	if files == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(files, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), upSuffix) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// drops "--" line comments. Blank statements are omitted.
func splitStatements(sql string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case !quoted && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case r == '\'':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ';' && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return stmts
}
