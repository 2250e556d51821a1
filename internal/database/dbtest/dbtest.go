// Package dbtest opens migrated throwaway databases for repository tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"recipe-box/internal/database"
)

// New returns a migrated SQLite database in a temp dir, closed on cleanup.
func New(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedUser inserts a bare user row so foreign keys resolve.
func SeedUser(t testing.TB, db *database.DB, id, email string) {
	t.Helper()

	now := database.Now()
	_, err := db.Exec(db.Rebind(`INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`), id, email, now, now)
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
}
