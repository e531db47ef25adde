// Package db opens and migrates the Waybill persistence backend.
package db

import (
	"fmt"

	"github.com/zulandar/waybill/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the server-backed storage option.
func DSN(host string, port int, database string) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", host, port, database)
}

// Connect opens a GORM connection for the configured storage backend.
// sqlite is the default single-process path; mysql is for installs that
// already run a database server.
func Connect(sc config.StorageConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch sc.Driver {
	case "sqlite":
		dialector = sqlite.Open(sc.Path)
	case "mysql":
		dialector = mysql.Open(DSN(sc.Host, sc.Port, sc.Database))
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", sc.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", sc.Driver, err)
	}
	return db, nil
}
