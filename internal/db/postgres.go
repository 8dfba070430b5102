package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

// NewSQLX wraps the connection pool already opened by GORM so the read-only
// projections and the health check share it.
func NewSQLX(gdb *gorm.DB) (*sqlx.DB, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlx.NewDb(sqlDB, driverName(gdb)), nil
}

// driverName maps GORM dialects onto the names sqlx uses to pick bind vars.
func driverName(gdb *gorm.DB) string {
	switch gdb.Dialector.Name() {
	case "sqlite":
		return "sqlite3"
	default:
		return "postgres"
	}
}
