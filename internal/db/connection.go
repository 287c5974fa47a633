// Package db contains code for opening the local sqlite state store.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/promptops/skillsync/database"
)

// Connection wraps the state store database handle.
type Connection struct {
	DB   *sql.DB
	path string
}

// Open opens (or creates) the sqlite state store at the given path and brings
// the schema up to date. The store is a pure cache of remote truth: if the
// file is corrupt or its schema is unusable, it is deleted and recreated
// empty, to be rebuilt by the next full sync.
func Open(path string) (*Connection, error) {
	if path == "" {
		return nil, fmt.Errorf("state store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create state store directory: %w", err)
	}

	sqlDB, err := openAndMigrate(path)
	if err != nil {
		slog.Warn("State store unusable, recreating empty",
			"path", path,
			"error", err)
		if resetErr := removeStoreFiles(path); resetErr != nil {
			return nil, fmt.Errorf("failed to reset state store: %w", resetErr)
		}
		sqlDB, err = openAndMigrate(path)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate state store: %w", err)
		}
	}

	return &Connection{DB: sqlDB, path: path}, nil
}

// OpenRaw opens the database without migrating or verifying the schema.
// Intended for the migration CLI, which manages schema versions itself.
func OpenRaw(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("state store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create state store directory: %w", err)
	}
	return open(path)
}

// openAndMigrate opens the database, applies pending migrations and verifies
// the schema is actually queryable.
func openAndMigrate(path string) (*sql.DB, error) {
	sqlDB, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := database.MigrateUp(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	if err := verifySchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return sqlDB, nil
}

func open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	// Single writer: sqlite tolerates exactly one write connection without
	// SQLITE_BUSY churn under intra-process concurrency.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping state store: %w", err)
	}

	return sqlDB, nil
}

// verifySchema runs a trivial query against every table the engine depends on.
func verifySchema(sqlDB *sql.DB) error {
	for _, table := range []string{"sources", "tracked_artifacts", "sync_runs"} {
		var n int
		//nolint:gosec // table names are a fixed internal list
		if err := sqlDB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return fmt.Errorf("state store schema check failed for table %s: %w", table, err)
		}
	}
	return nil
}

// removeStoreFiles deletes the database file along with its WAL sidecars.
func removeStoreFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (c *Connection) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Path returns the filesystem path of the state store.
func (c *Connection) Path() string {
	return c.path
}
