package recovery

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
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

func createOrder(t *testing.T, db *gorm.DB, status types.OrderStatus, durationMinutes int, createdAt time.Time) *types.ParentOrder {
	t.Helper()

	order := &types.ParentOrder{
		OrderID:         uuid.New().String(),
		OrderUniqueKey:  uuid.New().String(),
		Instrument:      "NSE:INFY",
		Side:            types.SideSell,
		TotalQuantity:   100,
		NumSplits:       2,
		DurationMinutes: durationMinutes,
		Status:          status,
		CreatedAt:       createdAt,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func createSlice(t *testing.T, db *gorm.DB, parentOrderID string, seq int, status types.SliceStatus) *types.Slice {
	t.Helper()

	slice := &types.Slice{
		SliceID:        uuid.New().String(),
		ParentOrderID:  parentOrderID,
		SequenceNumber: seq,
		Instrument:     "NSE:INFY",
		Side:           types.SideSell,
		Quantity:       50,
		ScheduledAt:    time.Now().UTC(),
		Status:         status,
	}
	require.NoError(t, db.Create(slice).Error)
	return slice
}

func newTestSupervisor(db *gorm.DB) *Supervisor {
	return NewSupervisor(db, time.Second, 5*time.Minute, 2*time.Minute)
}

func TestSweepFailsStuckSplits(t *testing.T) {
	db := setupTestDB(t)
	supervisor := newTestSupervisor(db)

	stale := time.Now().UTC().Add(-10 * time.Minute)
	fresh := time.Now().UTC().Add(-time.Minute)

	stuck := createOrder(t, db, types.OrderStatusSplitting, 60, stale)
	require.NoError(t, db.Model(stuck).Update("splitting_started_at", stale).Error)

	active := createOrder(t, db, types.OrderStatusSplitting, 60, fresh)
	require.NoError(t, db.Model(active).Update("splitting_started_at", fresh).Error)

	require.NoError(t, supervisor.Sweep())

	var recovered types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", stuck.OrderID).First(&recovered).Error)
	assert.Equal(t, types.OrderStatusFailed, recovered.Status)
	require.NotNil(t, recovered.FailureReason)
	assert.Equal(t, types.ReasonSplitTimeout, *recovered.FailureReason)

	var untouched types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", active.OrderID).First(&untouched).Error)
	assert.Equal(t, types.OrderStatusSplitting, untouched.Status, "splits within the timeout must not be touched")
}

func TestSweepFailsStuckExecutions(t *testing.T) {
	db := setupTestDB(t)
	supervisor := newTestSupervisor(db)

	order := createOrder(t, db, types.OrderStatusSplitComplete, 60, time.Now().UTC())

	stale := time.Now().UTC().Add(-10 * time.Minute)
	stuck := createSlice(t, db, order.OrderID, 1, types.SliceStatusExecuting)
	require.NoError(t, db.Model(stuck).Update("execution_started_at", stale).Error)

	fresh := time.Now().UTC()
	active := createSlice(t, db, order.OrderID, 2, types.SliceStatusExecuting)
	require.NoError(t, db.Model(active).Update("execution_started_at", fresh).Error)

	require.NoError(t, supervisor.Sweep())

	var recovered types.Slice
	require.NoError(t, db.Where("slice_id = ?", stuck.SliceID).First(&recovered).Error)
	assert.Equal(t, types.SliceStatusFailed, recovered.Status)
	require.NotNil(t, recovered.FailureReason)
	assert.Equal(t, types.ReasonExecutionTimeout, *recovered.FailureReason)

	var untouched types.Slice
	require.NoError(t, db.Where("slice_id = ?", active.SliceID).First(&untouched).Error)
	assert.Equal(t, types.SliceStatusExecuting, untouched.Status)
}

func TestSweepSkipsSlicesPastExpiredWindow(t *testing.T) {
	db := setupTestDB(t)
	supervisor := newTestSupervisor(db)

	// 5 minute window that ended an hour ago
	expired := createOrder(t, db, types.OrderStatusSplitComplete, 5, time.Now().UTC().Add(-time.Hour))
	leftover := createSlice(t, db, expired.OrderID, 1, types.SliceStatusScheduled)
	done := createSlice(t, db, expired.OrderID, 2, types.SliceStatusExecuted)

	// Window still open
	open := createOrder(t, db, types.OrderStatusSplitComplete, 60, time.Now().UTC())
	pending := createSlice(t, db, open.OrderID, 1, types.SliceStatusScheduled)

	require.NoError(t, supervisor.Sweep())

	var skipped types.Slice
	require.NoError(t, db.Where("slice_id = ?", leftover.SliceID).First(&skipped).Error)
	assert.Equal(t, types.SliceStatusSkipped, skipped.Status)
	require.NotNil(t, skipped.FailureReason)
	assert.Equal(t, types.ReasonWindowExpired, *skipped.FailureReason)

	// Terminal slices and open windows are untouched
	var executed types.Slice
	require.NoError(t, db.Where("slice_id = ?", done.SliceID).First(&executed).Error)
	assert.Equal(t, types.SliceStatusExecuted, executed.Status)

	var scheduled types.Slice
	require.NoError(t, db.Where("slice_id = ?", pending.SliceID).First(&scheduled).Error)
	assert.Equal(t, types.SliceStatusScheduled, scheduled.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	supervisor := newTestSupervisor(db)

	stale := time.Now().UTC().Add(-10 * time.Minute)
	stuck := createOrder(t, db, types.OrderStatusSplitting, 60, stale)
	require.NoError(t, db.Model(stuck).Update("splitting_started_at", stale).Error)

	require.NoError(t, supervisor.Sweep())
	require.NoError(t, supervisor.Sweep())

	var recovered types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", stuck.OrderID).First(&recovered).Error)
	assert.Equal(t, types.OrderStatusFailed, recovered.Status)
}
