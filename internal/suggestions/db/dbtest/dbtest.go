// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/runger/tidum/internal/suggestions/db"
)

// Open returns a migrated database in a temp dir, closed on cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	d, err := db.Open(context.Background(), db.Options{Path: filepath.Join(t.TempDir(), "suggestions.db")})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.DB()
}
