package splitting

import (
	"errors"
	"time"

	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrClaimLost is returned when the parent order left SPLITTING between the
// claim and the completing write, e.g. the timeout supervisor reclaimed it
var ErrClaimLost = errors.New("order no longer held by this worker")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ClaimNextPending atomically claims the oldest PENDING parent order and
// advances it to SPLITTING before any computation starts. The locked read
// skips rows held by other worker instances instead of waiting, so any
// number of instances can poll the same table without a coordinator.
// Returns (nil, nil) when no claimable order exists.
func (d *Database) ClaimNextPending() (*types.ParentOrder, error) {
	var order types.ParentOrder

	err := d.db.Transaction(func(tx *gorm.DB) error {
		q := tx
		// sqlite serializes writers and has no FOR UPDATE; the clause is
		// only meaningful (and only valid) on postgres
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{
				Strength: clause.LockingStrengthUpdate,
				Options:  clause.LockingOptionsSkipLocked,
			})
		}

		if err := q.
			Where("status = ?", types.OrderStatusPending).
			Order("created_at ASC").
			First(&order).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":               types.OrderStatusSplitting,
			"splitting_started_at": now,
		}).Error; err != nil {
			return err
		}

		order.Status = types.OrderStatusSplitting
		order.SplittingStartedAt = &now
		return nil
	})

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// CompleteSplit inserts the full slice set and advances the parent to
// SPLIT_COMPLETE in one transaction. Either all slices become visible
// together with the completed parent, or nothing does.
func (d *Database) CompleteSplit(orderID string, slices []types.Slice) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(&slices).Error; err != nil {
		tx.Rollback()
		return err
	}

	result := tx.Model(&types.ParentOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusSplitting).
		Updates(map[string]interface{}{
			"status":             types.OrderStatusSplitComplete,
			"split_completed_at": time.Now().UTC(),
		})
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrClaimLost
	}

	return tx.Commit().Error
}

// MarkSplitFailed records a terminal splitting failure with a reason.
// Conditional on the order still being SPLITTING so it never clobbers a
// completed split.
func (d *Database) MarkSplitFailed(orderID, reason string) error {
	result := d.db.Model(&types.ParentOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusSplitting).
		Updates(map[string]interface{}{
			"status":         types.OrderStatusFailed,
			"failure_reason": reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimLost
	}

	return nil
}
