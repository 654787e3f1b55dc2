package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/stroymat/matrag/internal/db"
)

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// OpenTestDB connects to the postgres instance named by TEST_DB_HOST
// and applies migrations. Tests calling it are skipped when the env
// var is unset. The returned cleanup truncates all tables.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host,
		getenv("TEST_DB_PORT", "5432"),
		getenv("TEST_DB_USER", "matrag"),
		getenv("TEST_DB_PASSWORD", "matrag_pass"),
		getenv("TEST_DB_NAME", "matrag_test"),
	)
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_, _ = conn.Exec("TRUNCATE materials, processing_results, batch_jobs, embedding_cache")
		_ = conn.Close()
	}
}
