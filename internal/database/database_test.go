package database_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fkhayef/settleup/internal/database"
	"github.com/fkhayef/settleup/internal/database/dbtest"
)

func TestRunMigrationsIsIdempotent(t *testing.T) {
	dsn := database.SQLiteDSN(filepath.Join(t.TempDir(), "migrate.db"))

	for i := 0; i < 2; i++ {
		if err := database.RunMigrations(database.DriverSQLite, dsn); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
}

func TestSchemaTables(t *testing.T) {
	db := dbtest.New(t)

	tables := []string{"users", "groups", "group_members", "expenses", "expense_splits", "settlements", "notifications"}
	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			var name string
			err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
			if err != nil {
				t.Fatalf("table %s missing: %v", table, err)
			}
		})
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := dbtest.New(t)

	_, err := db.Exec(`INSERT INTO group_members (group_id, user_id, status, role, joined_at) VALUES (999, 999, 'JOINED', 'MEMBER', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := database.Open(context.Background(), "mysql", "whatever"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if err := database.RunMigrations("mysql", "whatever"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (full_name, email, created_at, updated_at) VALUES ('A', 'a@example.com', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("users = %d after rollback, want 0", count)
	}
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		start, n int
		want     string
	}{
		{1, 0, ""},
		{1, 1, "$1"},
		{1, 3, "$1, $2, $3"},
		{9, 3, "$9, $10, $11"},
	}
	for _, tt := range tests {
		if got := database.Placeholders(tt.start, tt.n); got != tt.want {
			t.Errorf("Placeholders(%d, %d) = %q, want %q", tt.start, tt.n, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := dbtest.New(t)

	dbtest.User(t, db, "Alice", "alice@example.com")
	_, err := db.Exec(`INSERT INTO users (full_name, email, created_at, updated_at) VALUES ('Other', 'alice@example.com', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("expected duplicate email to fail")
	}
	if !database.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
	if database.IsUniqueViolation(errors.New("other")) {
		t.Error("plain error reported as unique violation")
	}
}
