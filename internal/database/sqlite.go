package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/accounts"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/desk"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(withPragmas(path)), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// withPragmas lets concurrent desk writers wait for the lock instead of failing with SQLITE_BUSY.
func withPragmas(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Migrate creates the desk, profile and migration tables and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&desk.WindowRecord{}, &desk.SettingsRecord{}, &accounts.Profile{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
