package journal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "journal:migrations"

// migrationNameRegex matches "<version>_<name>.sql", e.g. 001_call_journal.sql.
var migrationNameRegex = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Migration is one journal schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// File returns the migration's file name.
func (m Migration) File() string {
	return fmt.Sprintf("%03d_%s.sql", m.Version, m.Name)
}

func parseMigrationName(file string) (int, string, error) {
	m := migrationNameRegex.FindStringSubmatch(file)
	if m == nil {
		return 0, "", fmt.Errorf("%s - %q is not named <version>_<name>.sql", migrationsLogPrefix, file)
	}
	version, err := strconv.Atoi(m[1])
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("%s - %q has an invalid version", migrationsLogPrefix, file)
	}
	return version, m[2], nil
}

// LoadMigrations reads the .sql files in dir, ordered by version. Other files
// and directories are ignored; two files with the same version are an error.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		version, name, err := parseMigrationName(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%s - version %d used by both %s and %s", migrationsLogPrefix, version, prev, e.Name())
		}
		seen[version] = e.Name()

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	slog.Info(fmt.Sprintf("%s - Loaded %d journal migrations from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS journal_schema_migrations (
    version INTEGER     PRIMARY KEY,
    name    TEXT        NOT NULL,
    applied TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunMigrations applies the migrations not yet recorded in
// journal_schema_migrations. Each one runs in its own transaction together
// with its bookkeeping row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%s - failed to create migrations table: %w", migrationsLogPrefix, err)
	}
	applied, err := AppliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			slog.Debug(fmt.Sprintf("%s - %s already applied", migrationsLogPrefix, m.File()))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Applying %s", migrationsLogPrefix, m.File()))
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
		ran++
	}

	slog.Info(fmt.Sprintf("%s - Journal schema up to date (%d applied now, %d total)", migrationsLogPrefix, ran, len(applied)+ran))
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - %s: begin failed: %w", migrationsLogPrefix, m.File(), err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("%s - %s failed: %w", migrationsLogPrefix, m.File(), err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO journal_schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("%s - %s: record failed: %w", migrationsLogPrefix, m.File(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - %s: commit failed: %w", migrationsLogPrefix, m.File(), err)
	}
	return nil
}

// AppliedMigrations returns the applied versions mapped to their names. A
// database that never ran migrations yields an empty map.
func AppliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[int]string, error) {
	var tracked bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'journal_schema_migrations')`).Scan(&tracked)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check migrations table: %w", migrationsLogPrefix, err)
	}
	applied := make(map[int]string)
	if !tracked {
		return applied, nil
	}

	rows, err := pool.Query(ctx, `SELECT version, name FROM journal_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	defer rows.Close()
	for rows.Next() {
		var version int
		var name string
		if err := rows.Scan(&version, &name); err != nil {
			return nil, fmt.Errorf("%s - scan applied migration failed: %w", migrationsLogPrefix, err)
		}
		applied[version] = name
	}
	return applied, rows.Err()
}

// PendingMigrations returns the migrations whose versions are not in applied.
func PendingMigrations(migrations []Migration, applied map[int]string) []Migration {
	var pending []Migration
	for _, m := range migrations {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending
}

// MigrationStatus reports whether the call_journal table exists.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'call_journal')`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - failed to check schema: %w", migrationsLogPrefix, err)
	}
	return exists, nil
}
