// Package mysql registers the MySQL dialector.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	gormadapter "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

// Type is the database type name.
const Type = "mysql"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(DSN(cfg)), nil
	})
}

// DSN builds a go-sql-driver DSN. parseTime is required for DATETIME columns.
func DSN(c config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
