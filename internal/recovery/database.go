package recovery

import (
	"time"

	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// FailStuckSplits force-fails parent orders stuck in SPLITTING since before
// the cutoff. The update is conditional on the stale state still holding,
// so it never races a worker that just finished the same order.
func (d *Database) FailStuckSplits(cutoff time.Time) (int64, error) {
	result := d.db.Model(&types.ParentOrder{}).
		Where("status = ? AND splitting_started_at <= ?", types.OrderStatusSplitting, cutoff).
		Updates(map[string]interface{}{
			"status":         types.OrderStatusFailed,
			"failure_reason": types.ReasonSplitTimeout,
		})

	return result.RowsAffected, result.Error
}

// FailStuckExecutions force-fails slices stuck in EXECUTING since before
// the cutoff, e.g. a worker that crashed mid broker call
func (d *Database) FailStuckExecutions(cutoff time.Time) (int64, error) {
	result := d.db.Model(&types.Slice{}).
		Where("status = ? AND execution_started_at <= ?", types.SliceStatusExecuting, cutoff).
		Updates(map[string]interface{}{
			"status":         types.SliceStatusFailed,
			"failure_reason": types.ReasonExecutionTimeout,
		})

	return result.RowsAffected, result.Error
}

// ParentsWithScheduledSlices returns the parent orders that still have at
// least one SCHEDULED slice
func (d *Database) ParentsWithScheduledSlices() ([]types.ParentOrder, error) {
	sub := d.db.Model(&types.Slice{}).
		Distinct("parent_order_id").
		Where("status = ?", types.SliceStatusScheduled)

	var orders []types.ParentOrder
	if err := d.db.Where("order_id IN (?)", sub).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// SkipScheduledSlices moves all still-SCHEDULED slices of a parent to
// SKIPPED. Used once the parent's split window has fully elapsed.
func (d *Database) SkipScheduledSlices(parentOrderID string) (int64, error) {
	result := d.db.Model(&types.Slice{}).
		Where("parent_order_id = ? AND status = ?", parentOrderID, types.SliceStatusScheduled).
		Updates(map[string]interface{}{
			"status":         types.SliceStatusSkipped,
			"failure_reason": types.ReasonWindowExpired,
		})

	return result.RowsAffected, result.Error
}
