package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrSchemaVersionTooNew is returned when the database was migrated by a
// newer tidumd than this one.
var ErrSchemaVersionTooNew = errors.New("database schema version is newer than supported; upgrade tidumd")

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	SQL     string
}

// Migrations returns every migration, oldest first.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, SQL: schemaV1},
	}
}

// GetSchemaVersion returns the highest applied migration, or 0 for an empty
// database.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to look up schema_migrations: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// RunMigrations applies every pending migration, each in its own
// transaction. A database newer than SchemaVersion is left untouched.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	current, err := GetSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: database version %d, supported version %d",
			ErrSchemaVersionTooNew, current, SchemaVersion)
	}

	for _, m := range Migrations() {
		if m.Version <= current {
			continue
		}
		if err := withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_ts) VALUES (?, ?)`,
				m.Version, time.Now().UnixMilli())
			return err
		}); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.Version, err)
		}
	}
	return nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // the original error matters
		return err
	}
	return tx.Commit()
}

// ValidateSchema reports every table and index missing from AllTables and
// AllIndexes.
func ValidateSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT type, name FROM sqlite_master WHERE type IN ('table', 'index')`)
	if err != nil {
		return fmt.Errorf("failed to read sqlite_master: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			return fmt.Errorf("failed to scan sqlite_master: %w", err)
		}
		present[typ+":"+name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read sqlite_master: %w", err)
	}

	var missing []string
	for _, table := range AllTables {
		if !present["table:"+table] {
			missing = append(missing, fmt.Sprintf("table %q", table))
		}
	}
	for _, index := range AllIndexes {
		if !present["index:"+index] {
			missing = append(missing, fmt.Sprintf("index %q", index))
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("schema incomplete: %s does not exist", strings.Join(missing, ", "))
	}
	return nil
}
