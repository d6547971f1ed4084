// Package migration applies the embedded schema for audit, alarm and batch records.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// DefaultTable records the applied schema version.
const DefaultTable = "schema_migrations"

//go:embed sql
var migrationFS embed.FS

// FS returns the embedded migration tree. Each dialect has its own directory under "sql".
func FS() fs.FS {
	return migrationFS
}

// Migrator applies the embedded migrations for one database type.
type Migrator struct {
	dbType    string
	tableName string
	source    fs.FS
}

// NewMigrator creates a Migrator for dbType ("sqlite", "postgres" or "mysql").
func NewMigrator(dbType string) *Migrator {
	return &Migrator{dbType: dbType, tableName: DefaultTable, source: migrationFS}
}

// Path returns the directory holding the migrations for the Migrator's dialect.
func (m *Migrator) Path() string {
	return "sql/" + m.dbType
}

func (m *Migrator) databaseDriver(sqlDB *sql.DB) (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: m.tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: m.tableName})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: m.tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *Migrator) instance(db *gorm.DB) (*migrate.Migrate, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(m.source, m.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", m.Path(), err)
	}
	dbDriver, err := m.databaseDriver(sqlDB)
	if err != nil {
		return nil, err
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

// Up applies every pending migration. An already current schema is not an error.
//
// The migrate instance is not closed: closing it would close the shared *sql.DB owned by gorm.
func (m *Migrator) Up(ctx context.Context, db *gorm.DB) error {
	logger.Infof("Applying %s migrations (path: %s, table: %s).", m.dbType, m.Path(), m.tableName)
	mInstance, err := m.instance(db)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- mInstance.Up() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		mInstance.GracefulStop <- true
		err = <-done
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := mInstance.Version(); verr == nil {
			logger.Errorf("Migration failed at version %d (dirty: %t).", version, dirty)
		}
		return fmt.Errorf("migration failed for %s: %w", m.dbType, err)
	}
	version, _, _ := mInstance.Version()
	logger.Infof("Schema is at version %d.", version)
	return nil
}
