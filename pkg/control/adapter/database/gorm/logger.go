package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// NewGormLogger maps the controller log level onto gorm's. SQL statements are only traced
// at TRACE; DEBUG shows slow queries and warnings.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToUpper(level) {
	case "TRACE":
		gormLevel = gormlogger.Info
	case "DEBUG":
		gormLevel = gormlogger.Warn
	case "INFO", "WARN", "ERROR":
		gormLevel = gormlogger.Error
	default:
		gormLevel = gormlogger.Silent
	}
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// gormWriter routes gorm output to the controller logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	switch {
	case strings.Contains(msg, "SLOW SQL"), strings.Contains(msg, "error"):
		logger.Warnf("[GORM] %s", msg)
	default:
		logger.Debugf("[GORM] %s", msg)
	}
}
