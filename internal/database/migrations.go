package database

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/desk"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClampPersistedWindowSizes = "2026-09-30_clamp_persisted_window_sizes"
	migrationDropOrphanedDeskWindows   = "2026-10-06_drop_orphaned_desk_windows"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migration struct {
	name  string
	apply func(*gorm.DB) error
}

// deskMigrations run in order; each one commits together with its db_migrations row.
var deskMigrations = []migration{
	{name: migrationClampPersistedWindowSizes, apply: clampPersistedWindowSizes},
	{name: migrationDropOrphanedDeskWindows, apply: dropOrphanedDeskWindows},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	var applied []migrationRecord
	if err := db.Find(&applied).Error; err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, record := range applied {
		done[record.Name] = true
	}

	for _, pending := range deskMigrations {
		if done[pending.name] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := pending.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: pending.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", pending.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", pending.name))
		}
	}
	return nil
}

// Layouts saved before sizes were clamped may hold windows below the minimum size.
func clampPersistedWindowSizes(db *gorm.DB) error {
	if err := db.Model(&desk.WindowRecord{}).
		Where("width < ?", desk.MinWindowWidth).
		Update("width", desk.MinWindowWidth).Error; err != nil {
		return err
	}
	return db.Model(&desk.WindowRecord{}).
		Where("height < ?", desk.MinWindowHeight).
		Update("height", desk.MinWindowHeight).Error
}

// Windows without a settings row cannot be restored and are removed.
func dropOrphanedDeskWindows(db *gorm.DB) error {
	return db.Where("user_id NOT IN (?)", db.Model(&desk.SettingsRecord{}).Select("user_id")).
		Delete(&desk.WindowRecord{}).Error
}
