// Package dbtest provides throwaway migrated SQLite databases for repository tests
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fkhayef/settleup/internal/database"
)

// New returns a migrated database in a temporary directory, closed when the test ends
func New(t testing.TB) *sql.DB {
	t.Helper()

	dsn := database.SQLiteDSN(filepath.Join(t.TempDir(), "test.db"))
	if err := database.RunMigrations(database.DriverSQLite, dsn); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db, err := database.Open(context.Background(), database.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// User inserts a user row and returns its id
func User(t testing.TB, db *sql.DB, fullName, email string) int64 {
	t.Helper()

	var id int64
	err := db.QueryRowContext(context.Background(),
		`INSERT INTO users (full_name, email, created_at, updated_at) VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP) RETURNING id`,
		fullName, email,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	return id
}
