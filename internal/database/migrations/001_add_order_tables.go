package migrations

import (
	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/gorm"
)

// AddOrderTables creates the parent order and slice tables and the indexes
// the worker queries depend on
func AddOrderTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.ParentOrder{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Slice{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Supports the earliest-PENDING claim query
		`CREATE INDEX IF NOT EXISTS idx_parent_orders_status_created
		 ON parent_orders(status, created_at)`,

		// Supports the due-SCHEDULED slice query
		`CREATE INDEX IF NOT EXISTS idx_slices_status_scheduled
		 ON slices(status, scheduled_at)`,

		// Supports the timeout supervisor sweep over stuck executions
		`CREATE INDEX IF NOT EXISTS idx_slices_status_started
		 ON slices(status, execution_started_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
