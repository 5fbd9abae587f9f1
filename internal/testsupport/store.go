package testsupport

import (
	"context"
	"testing"

	"paperflow/internal/config"
	"paperflow/internal/db"
)

// MustOpenDB opens the configured database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *db.DB {
	t.Helper()

	database, err := db.Open(context.Background(), cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
