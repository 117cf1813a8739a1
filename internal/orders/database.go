package orders

import (
	"errors"

	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrder inserts a new parent order. The uniqueness constraint on
// order_unique_key rejects duplicates at the store level; callers see
// gorm.ErrDuplicatedKey.
func (d *Database) CreateOrder(order *types.ParentOrder) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.ParentOrder, error) {
	var order types.ParentOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetSlices returns a parent order's slices in sequence order
func (d *Database) GetSlices(parentOrderID string) ([]types.Slice, error) {
	var slices []types.Slice
	if err := d.db.
		Where("parent_order_id = ?", parentOrderID).
		Order("sequence_number ASC").
		Find(&slices).Error; err != nil {
		return nil, err
	}
	return slices, nil
}
