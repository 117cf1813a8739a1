package splitting

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/database"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog"
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

func createPendingOrder(t *testing.T, db *gorm.DB, totalQuantity int64, numSplits, durationMinutes int, createdAt time.Time) *types.ParentOrder {
	t.Helper()

	order := &types.ParentOrder{
		OrderID:         uuid.New().String(),
		OrderUniqueKey:  uuid.New().String(),
		Instrument:      "NSE:RELIANCE",
		Side:            types.SideBuy,
		TotalQuantity:   totalQuantity,
		NumSplits:       numSplits,
		DurationMinutes: durationMinutes,
		Status:          types.OrderStatusPending,
		CreatedAt:       createdAt,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func newTestWorker(db *gorm.DB) *Worker {
	return NewWorker(db, NewEngine(rand.New(rand.NewSource(1))), time.Second)
}

func TestClaimNextPendingClaimsOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	store := NewDatabase(db)

	older := createPendingOrder(t, db, 100, 5, 60, time.Now().UTC().Add(-2*time.Minute))
	createPendingOrder(t, db, 200, 4, 30, time.Now().UTC().Add(-1*time.Minute))

	claimed, err := store.ClaimNextPending()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.OrderID, claimed.OrderID)
	assert.Equal(t, types.OrderStatusSplitting, claimed.Status)
	assert.NotNil(t, claimed.SplittingStartedAt)

	var persisted types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", older.OrderID).First(&persisted).Error)
	assert.Equal(t, types.OrderStatusSplitting, persisted.Status)
}

func TestClaimNextPendingReturnsNilWhenQueueEmpty(t *testing.T) {
	db := setupTestDB(t)
	store := NewDatabase(db)

	claimed, err := store.ClaimNextPending()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimedOrderIsNeverClaimedTwice(t *testing.T) {
	db := setupTestDB(t)
	store := NewDatabase(db)

	createPendingOrder(t, db, 100, 5, 60, time.Now().UTC())

	first, err := store.ClaimNextPending()
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.ClaimNextPending()
	require.NoError(t, err)
	assert.Nil(t, second, "a claimed order must not be claimable again")
}

func TestWorkerSplitsOrderIntoSlices(t *testing.T) {
	db := setupTestDB(t)
	worker := newTestWorker(db)

	order := createPendingOrder(t, db, 100, 5, 60, time.Now().UTC())

	claimed, err := worker.db.ClaimNextPending()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	worker.process(claimed, zerolog.Nop())

	var persisted types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&persisted).Error)
	assert.Equal(t, types.OrderStatusSplitComplete, persisted.Status)
	assert.NotNil(t, persisted.SplitCompletedAt)

	var slices []types.Slice
	require.NoError(t, db.Where("parent_order_id = ?", order.OrderID).Order("sequence_number ASC").Find(&slices).Error)
	require.Len(t, slices, 5)

	var sum int64
	seen := make(map[int]bool)
	for _, s := range slices {
		assert.Equal(t, types.SliceStatusScheduled, s.Status)
		assert.Equal(t, order.Instrument, s.Instrument)
		assert.Equal(t, order.Side, s.Side)
		assert.False(t, seen[s.SequenceNumber], "duplicate sequence number %d", s.SequenceNumber)
		seen[s.SequenceNumber] = true
		sum += s.Quantity
	}
	assert.Equal(t, order.TotalQuantity, sum)
	for i := 1; i <= 5; i++ {
		assert.True(t, seen[i], "missing sequence number %d", i)
	}
}

func TestWorkerMarksOrderFailedOnBadDistribution(t *testing.T) {
	db := setupTestDB(t)
	worker := newTestWorker(db)

	// base share 0.6 floors to zero for every non-last slice
	order := createPendingOrder(t, db, 3, 5, 60, time.Now().UTC())

	claimed, err := worker.db.ClaimNextPending()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	worker.process(claimed, zerolog.Nop())

	var persisted types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&persisted).Error)
	assert.Equal(t, types.OrderStatusFailed, persisted.Status)
	require.NotNil(t, persisted.FailureReason)
	assert.Equal(t, types.ReasonInvalidQuantityDistribution, *persisted.FailureReason)

	var count int64
	require.NoError(t, db.Model(&types.Slice{}).Where("parent_order_id = ?", order.OrderID).Count(&count).Error)
	assert.Zero(t, count, "failed splits must not leave partial slice sets")
}

func TestWorkerFailureDoesNotBlockQueue(t *testing.T) {
	db := setupTestDB(t)
	worker := newTestWorker(db)

	bad := createPendingOrder(t, db, 3, 5, 60, time.Now().UTC().Add(-time.Minute))
	good := createPendingOrder(t, db, 100, 4, 30, time.Now().UTC())

	worker.drain(context.Background(), zerolog.Nop())

	var badOrder, goodOrder types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", bad.OrderID).First(&badOrder).Error)
	require.NoError(t, db.Where("order_id = ?", good.OrderID).First(&goodOrder).Error)
	assert.Equal(t, types.OrderStatusFailed, badOrder.Status)
	assert.Equal(t, types.OrderStatusSplitComplete, goodOrder.Status)
}

func TestCompleteSplitRefusedWhenClaimLost(t *testing.T) {
	db := setupTestDB(t)
	store := NewDatabase(db)

	order := createPendingOrder(t, db, 100, 2, 10, time.Now().UTC())
	// Supervisor already force-failed this order
	require.NoError(t, db.Model(&types.ParentOrder{}).
		Where("order_id = ?", order.OrderID).
		Update("status", types.OrderStatusFailed).Error)

	err := store.CompleteSplit(order.OrderID, []types.Slice{
		{SliceID: uuid.New().String(), ParentOrderID: order.OrderID, SequenceNumber: 1, Quantity: 50, Status: types.SliceStatusScheduled, ScheduledAt: time.Now().UTC()},
		{SliceID: uuid.New().String(), ParentOrderID: order.OrderID, SequenceNumber: 2, Quantity: 50, Status: types.SliceStatusScheduled, ScheduledAt: time.Now().UTC()},
	})
	require.ErrorIs(t, err, ErrClaimLost)

	var count int64
	require.NoError(t, db.Model(&types.Slice{}).Where("parent_order_id = ?", order.OrderID).Count(&count).Error)
	assert.Zero(t, count)
}
