// Package database provides schema migration tooling for the local state store.
package database

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var fs embed.FS

// migrationsFromSource returns a migration source driver from the embedded migrations.
func migrationsFromSource() source.Driver {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		panic(err)
	}
	return d
}

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
}

// NewFromDB returns a new migration instance bound to an open sqlite database.
func NewFromDB(db *sql.DB) (Migrator, error) {
	d := migrationsFromSource()
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MigrateUp applies all pending migrations. A database that is already at the
// latest schema version is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := NewFromDB(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
