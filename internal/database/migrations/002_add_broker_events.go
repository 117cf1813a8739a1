package migrations

import (
	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/gorm"
)

// AddBrokerEvents creates the append-only broker event audit table
func AddBrokerEvents(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.BrokerEvent{}); err != nil {
		return err
	}

	return db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_broker_events_slice_created
		 ON broker_events(slice_id, created_at)`,
	).Error
}
