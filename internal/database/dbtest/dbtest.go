// Package dbtest opens the postgres database used by package tests
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/alexbotov/spinclient/internal/config"
	"github.com/alexbotov/spinclient/internal/database"
	"github.com/rs/zerolog"
)

// Open connects to SPIN_TEST_DSN, migrates and cleans it. The test is
// skipped when no database is reachable.
func Open(t *testing.T) *database.DB {
	t.Helper()

	dsn := os.Getenv("SPIN_TEST_DSN")
	if dsn == "" {
		dsn = "host=localhost dbname=spin_test sslmode=disable"
	}

	ctx := context.Background()
	db, err := database.New(ctx, config.DatabaseConfig{Driver: "postgres", DSN: dsn}, zerolog.Nop())
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := db.CleanData(ctx); err != nil {
		db.Close()
		t.Fatalf("Failed to clean data: %v", err)
	}

	t.Cleanup(func() {
		db.CleanData(context.Background())
		db.Close()
	})

	return db
}
