// Package dbmigrate adapts golang-migrate/migrate to the registry's
// DbMigrator capability: a module embeds a Source of versioned *.sql files
// and gets engine-aware schema migration for whichever backend its
// dbmanager.Handle resolved to.
package dbmigrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/hyperspot-run/modkit/pkg/modkit/dbmanager"
	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// Source is an embedded directory of golang-migrate-formatted *.sql files,
// e.g. 0001_create_orders.up.sql / 0001_create_orders.down.sql.
type Source struct {
	FS  fs.FS
	Dir string
}

// Migrator is the default DbMigrator: it resolves the handle's engine and
// runs every pending migration in Source up to the latest version.
type Migrator struct {
	Source Source
}

// New returns a Migrator wrapping src, ready to be placed in a
// Registration's DbMigrate field.
func New(src Source) *Migrator {
	return &Migrator{Source: src}
}

// MigrateDB implements registry.DbMigrator. db is expected to be a
// *dbmanager.Handle, as supplied by the registry's DBResolver.
func (m *Migrator) MigrateDB(ctx context.Context, db any) error {
	handle, ok := db.(*dbmanager.Handle)
	if !ok {
		return modkiterrors.NewInvalidConfigError(fmt.Sprintf("dbmigrate: expected *dbmanager.Handle, got %T", db))
	}
	return Run(ctx, handle, m.Source)
}

// Run applies every pending migration in src against handle, using the
// golang-migrate driver matching the handle's detected engine.
func Run(ctx context.Context, handle *dbmanager.Handle, src Source) error {
	sourceDriver, err := iofs.New(src.FS, src.Dir)
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}

	dbDriver, err := databaseDriver(handle)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(handle.Engine()), dbDriver)
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func databaseDriver(handle *dbmanager.Handle) (database.Driver, error) {
	switch handle.Engine() {
	case dbmanager.EnginePostgres:
		return postgres.WithInstance(handle.DB().DB, &postgres.Config{})
	case dbmanager.EngineMySQL:
		return mysql.WithInstance(handle.DB().DB, &mysql.Config{})
	case dbmanager.EngineSQLite:
		return sqlite3.WithInstance(handle.DB().DB, &sqlite3.Config{})
	default:
		return nil, modkiterrors.NewFeatureDisabledError(fmt.Sprintf("migrations for engine %q", handle.Engine()))
	}
}
