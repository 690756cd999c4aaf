// Package testing provides testing utilities and helpers for the arena project.
package testing

import (
	"database/sql"
	"testing"

	"github.com/aristath/arena/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB opens an in-memory SQLite database with the named schema applied.
// Supported schema names are "arena", "ledger" and "cache"; any other name
// yields an empty database. The connection is closed when the test ends.
//
// The pool is pinned to a single connection: every new connection to
// ":memory:" would otherwise be a different, empty database.
func NewTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database %s: %v", name, err)
	}
	db.SetMaxOpenConns(1)

	if err := database.ApplySchema(db, name); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to apply schema %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	return db
}
