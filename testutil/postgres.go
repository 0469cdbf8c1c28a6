package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/yellowcrystalz/masa-meter/db"
)

// SetupTestDB opens TEST_PG_DSN, applies the schema and empties the ledger tables.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	TruncateLedger(t, database)
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// TruncateLedger removes every speaker and mention and restarts the mention id sequence.
func TruncateLedger(t *testing.T, database *sql.DB) {
	t.Helper()
	if _, err := database.Exec(`TRUNCATE masa_mentions, speakers RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("failed to truncate ledger tables: %v", err)
	}
}

// NewMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func NewMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		database.Close()
	})
	return database, mock
}
