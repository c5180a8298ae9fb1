package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/yarning/internal/store/migrations"
)

// MigrateResult reports the schema version before and after a run.
type MigrateResult struct {
	From    uint
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies every pending migration.
func (db *DB) Migrate() (*MigrateResult, error) {
	return db.migrate("up", func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(version uint) (*MigrateResult, error) {
	return db.migrate(fmt.Sprintf("to %d", version), func(m *migrate.Migrate) error { return m.Migrate(version) })
}

func (db *DB) migrate(op string, run func(*migrate.Migrate) error) (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	from, _, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	if err := run(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration %s: %w", op, err)
	}
	version, dirty, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	return &MigrateResult{
		From:    from,
		Version: version,
		Dirty:   dirty,
		Changed: version != from,
	}, nil
}

// schemaVersion treats an unmigrated database as version 0.
func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return v, dirty, nil
}
