package migration_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"

	gormadapter "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/migration"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

func TestEmbeddedMigrations_EveryDialectHasUpAndDown(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgres", "mysql"} {
		m := migration.NewMigrator(dialect)
		entries, err := fs.ReadDir(migration.FS(), m.Path())
		require.NoError(t, err, dialect)

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.Contains(t, names, "000001_create_event_tables.up.sql", dialect)
		assert.Contains(t, names, "000001_create_event_tables.down.sql", dialect)

		up, err := fs.ReadFile(migration.FS(), m.Path()+"/000001_create_event_tables.up.sql")
		require.NoError(t, err)
		for _, table := range []string{"audit_entries", "alarm_events", "batch_events"} {
			assert.Contains(t, string(up), table, dialect)
		}
	}
}

func TestMigrator_UnsupportedDialect(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		mock.ExpectClose()
		_ = sqlDB.Close()
	}()
	db, err := gormadapter.OpenDialector(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), config.PoolConfig{}, "SILENT")
	require.NoError(t, err)

	err = migration.NewMigrator("oracle").Up(context.Background(), db)
	require.Error(t, err)
}
