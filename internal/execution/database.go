package execution

import (
	"errors"
	"time"

	"github.com/ksred/pulse-api/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DueSlices returns SCHEDULED slices whose scheduled time has passed,
// oldest first. These are candidates only; ownership is decided by
// TryClaimSlice.
func (d *Database) DueSlices(now time.Time, limit int) ([]types.Slice, error) {
	var slices []types.Slice
	if err := d.db.
		Where("status = ? AND scheduled_at <= ?", types.SliceStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&slices).Error; err != nil {
		return nil, err
	}
	return slices, nil
}

// GetParent returns the parent order for a slice, or (nil, nil) when the
// parent does not exist
func (d *Database) GetParent(orderID string) (*types.ParentOrder, error) {
	var order types.ParentOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// TryClaimSlice attempts the SCHEDULED -> EXECUTING transition. The update
// is conditional on the slice still being SCHEDULED; exactly one racing
// instance observes an affected row and wins the claim.
func (d *Database) TryClaimSlice(sliceID string) (bool, error) {
	result := d.db.Model(&types.Slice{}).
		Where("slice_id = ? AND status = ?", sliceID, types.SliceStatusScheduled).
		Updates(map[string]interface{}{
			"status":               types.SliceStatusExecuting,
			"execution_started_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSkippedIfScheduled transitions a slice to SKIPPED, conditional on it
// still being SCHEDULED. Used when the parent's window has expired before
// the slice was ever claimed.
func (d *Database) MarkSkippedIfScheduled(sliceID, reason string) (bool, error) {
	result := d.db.Model(&types.Slice{}).
		Where("slice_id = ? AND status = ?", sliceID, types.SliceStatusScheduled).
		Updates(map[string]interface{}{
			"status":         types.SliceStatusSkipped,
			"failure_reason": reason,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkExecuted records a successful execution, conditional on the slice
// still being EXECUTING (the timeout supervisor may have reclaimed it)
func (d *Database) MarkExecuted(sliceID, brokerOrderID string, price *decimal.Decimal, quantity int64) (bool, error) {
	result := d.db.Model(&types.Slice{}).
		Where("slice_id = ? AND status = ?", sliceID, types.SliceStatusExecuting).
		Updates(map[string]interface{}{
			"status":             types.SliceStatusExecuted,
			"broker_order_id":    brokerOrderID,
			"execution_price":    price,
			"execution_quantity": quantity,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkFailed records a terminal execution failure with a reason,
// conditional on the slice still being EXECUTING
func (d *Database) MarkFailed(sliceID, reason string) (bool, error) {
	result := d.db.Model(&types.Slice{}).
		Where("slice_id = ? AND status = ?", sliceID, types.SliceStatusExecuting).
		Updates(map[string]interface{}{
			"status":         types.SliceStatusFailed,
			"failure_reason": reason,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RevertToScheduled returns a slice to the queue after a retryable broker
// failure, recording the attempt count. A future poll cycle picks it up
// again.
func (d *Database) RevertToScheduled(sliceID string, retryCount int) (bool, error) {
	result := d.db.Model(&types.Slice{}).
		Where("slice_id = ? AND status = ?", sliceID, types.SliceStatusExecuting).
		Updates(map[string]interface{}{
			"status":               types.SliceStatusScheduled,
			"retry_count":          retryCount,
			"execution_started_at": nil,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RecordBrokerEvent appends one broker call outcome to the audit trail
func (d *Database) RecordBrokerEvent(event *types.BrokerEvent) error {
	return d.db.Create(event).Error
}
