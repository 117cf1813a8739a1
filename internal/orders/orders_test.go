package orders

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ksred/pulse-api/internal/database"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newRequest(uniqueKey string) *types.CreateOrderRequest {
	return &types.CreateOrderRequest{
		OrderUniqueKey:  uniqueKey,
		Instrument:      "NSE:RELIANCE",
		Side:            types.SideBuy,
		TotalQuantity:   100,
		NumSplits:       5,
		DurationMinutes: 60,
		Randomize:       true,
	}
}

func TestCreateOrderAcceptsInPending(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	order, err := service.CreateOrder(newRequest("client-key-1"))
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.Equal(t, "client-key-1", order.OrderUniqueKey)

	var persisted types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&persisted).Error)
	assert.Equal(t, types.OrderStatusPending, persisted.Status)
	assert.Equal(t, int64(100), persisted.TotalQuantity)
	assert.True(t, persisted.Randomize)
}

func TestCreateOrderRejectsDuplicateUniqueKey(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	original, err := service.CreateOrder(newRequest("client-key-dup"))
	require.NoError(t, err)

	_, err = service.CreateOrder(newRequest("client-key-dup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateOrderKey)

	// The original order must be unaffected by the rejected duplicate
	var persisted types.ParentOrder
	require.NoError(t, db.Where("order_unique_key = ?", "client-key-dup").First(&persisted).Error)
	assert.Equal(t, original.OrderID, persisted.OrderID)

	var count int64
	require.NoError(t, db.Model(&types.ParentOrder{}).Where("order_unique_key = ?", "client-key-dup").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrderStatusIncludesMetrics(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	order, err := service.CreateOrder(newRequest("client-key-status"))
	require.NoError(t, err)

	require.NoError(t, db.Create(&types.Slice{
		SliceID:        "slice-1",
		ParentOrderID:  order.OrderID,
		SequenceNumber: 1,
		Instrument:     order.Instrument,
		Side:           order.Side,
		Quantity:       100,
		ScheduledAt:    order.CreatedAt,
		Status:         types.SliceStatusScheduled,
	}).Error)

	status, err := service.GetOrderStatus(order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, order.OrderID, status.Order.OrderID)
	assert.Equal(t, 1, status.Metrics.TotalSlices)
	assert.Equal(t, 1, status.Metrics.ScheduledSlices)
	assert.False(t, status.Metrics.Completed)
}

func TestGetOrderStatusUnknownOrderReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	status, err := service.GetOrderStatus("no-such-order")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestGetSlicesOrderedBySequence(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	order, err := service.CreateOrder(newRequest("client-key-slices"))
	require.NoError(t, err)

	for _, seq := range []int{3, 1, 2} {
		require.NoError(t, db.Create(&types.Slice{
			SliceID:        fmt.Sprintf("slice-%d", seq),
			ParentOrderID:  order.OrderID,
			SequenceNumber: seq,
			Instrument:     order.Instrument,
			Side:           order.Side,
			Quantity:       10,
			ScheduledAt:    order.CreatedAt,
			Status:         types.SliceStatusScheduled,
		}).Error)
	}

	slices, err := service.GetSlices(order.OrderID)
	require.NoError(t, err)
	require.Len(t, slices, 3)
	for i, s := range slices {
		assert.Equal(t, i+1, s.SequenceNumber)
	}
}
