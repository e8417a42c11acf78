package storage

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
)

// NewTestDB opens a private in-memory sqlite database with the full schema.
// The pool is pinned to one connection because every sqlite :memory:
// connection is its own database.
func NewTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := EnsureSchema(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
