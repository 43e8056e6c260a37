package database

import (
	"fmt"

	"gorm.io/gorm"

	"presence-service/internal/domain"
)

// openIntervalIndex enforces at most one open interval per entity in the store itself.
// Both postgres and sqlite support partial indexes.
const openIntervalIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_presence_intervals_one_open
	ON presence_intervals (entity_id) WHERE end_time IS NULL`

// AutoMigrate runs GORM auto-migration for the interval table and its constraints
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Interval{}); err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}

	if err := db.Exec(openIntervalIndex).Error; err != nil {
		return fmt.Errorf("failed to create open interval index: %w", err)
	}

	return nil
}
