// Package testing provides testing utilities and helpers for the portfolio service.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/aristath/degiro-portfolio/internal/database"
	_ "github.com/mattn/go-sqlite3" // driver for in-memory handler tests
	_ "modernc.org/sqlite"
)

// NewTestDB creates a temporary file-backed SQLite database with its schema
// applied. Returns the database and an idempotent cleanup function.
//
// Supported schema names:
//   - "portfolio" - applies portfolio_schema.sql
//   - "client_data" - applies client_data_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary files give each test its own isolated database, and unlike
	// :memory: they are shared across pooled connections.
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	if name == database.NameClientData {
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	}
}

// NewMemoryDB opens a single-connection in-memory database on the mattn
// driver with the named schema applied. Used by HTTP handler tests.
func NewMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Every pooled connection would get its own empty :memory: database
	db.SetMaxOpenConns(1)

	schema, err := database.Schema(name)
	if err != nil {
		_ = db.Close()
		t.Fatalf("Failed to load schema %s: %v", name, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to apply schema %s: %v", name, err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}
