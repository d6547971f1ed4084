// Package sqlite registers the SQLite dialector.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadapter "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

// Type is the database type name.
const Type = "sqlite"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(DSN(cfg)), nil
	})
}

// DSN returns the database file path. Foreign keys are enforced and writers wait on a
// busy database instead of failing.
func DSN(c config.DatabaseConfig) string {
	if c.Database == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return c.Database + "?_foreign_keys=on&_busy_timeout=5000"
}
