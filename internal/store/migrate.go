package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/vksync/internal/store/migrations"
)

// SchemaChange reports the schema version before and after Migrate.
// From is 0 for a fresh database.
type SchemaChange struct {
	From uint
	To   uint
}

// Applied reports whether Migrate ran at least one migration.
func (c SchemaChange) Applied() bool { return c.From != c.To }

// Migrate brings the schema up to the newest embedded migration. A database
// left dirty by an interrupted migration is refused.
func (db *DB) Migrate() (SchemaChange, error) {
	var change SchemaChange

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return change, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return change, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return change, fmt.Errorf("migration instance: %w", err)
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return change, fmt.Errorf("schema version: %w", err)
	case dirty:
		return change, fmt.Errorf("schema version %d is dirty", from)
	}
	change.From = from

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return change, fmt.Errorf("migrate up: %w", err)
	}
	to, _, err := m.Version()
	if err != nil {
		return change, fmt.Errorf("schema version: %w", err)
	}
	change.To = to
	return change, nil
}
