package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/database"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "monitor_test.db"))
	require.NoError(t, err)
	return db
}

func newTestMonitor(db *gorm.DB) *Monitor {
	return NewMonitor(db, time.Second, 2*time.Minute, time.Minute)
}

func insertOrder(t *testing.T, db *gorm.DB, status string) *types.ParentOrder {
	order := &types.ParentOrder{
		OrderID:        uuid.New().String(),
		OrderUniqueKey: uuid.New().String(),
		ClientID:       "test-client",
		Exchange:       "NSE",
		Symbol:         "INFY",
		Side:           types.SideBuy,
		TotalQuantity:  100,
		SplitConfig:    types.SplitConfig{NumSplits: 2, DurationMinutes: 10},
		Status:         status,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// ageOrder backdates a parent's updated_at past the split timeout.
// UpdateColumn skips the gorm auto-timestamp that would defeat the backdate.
func ageOrder(t *testing.T, db *gorm.DB, orderID string, age time.Duration) {
	require.NoError(t, db.Model(&types.ParentOrder{}).
		Where("order_id = ?", orderID).
		UpdateColumn("updated_at", time.Now().Add(-age)).Error)
}

func insertSlice(t *testing.T, db *gorm.DB, orderID, stage string, startedAt *time.Time) *types.OrderSlice {
	slice := &types.OrderSlice{
		SliceID:       uuid.New().String(),
		ParentOrderID: orderID,
		SequenceIndex: 0,
		Quantity:      50,
		ScheduledAt:   time.Now().Add(-10 * time.Minute),
		Stage:         stage,
		StartedAt:     startedAt,
	}
	require.NoError(t, db.Create(slice).Error)
	return slice
}

func TestStalledSplitWithoutSlicesResetToPending(t *testing.T) {
	db := setupTestDB(t)
	m := newTestMonitor(db)

	order := insertOrder(t, db, types.OrderStatusInProgress)
	ageOrder(t, db, order.OrderID, 10*time.Minute)

	require.NoError(t, m.Sweep())

	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusPending, updated.Status)
}

func TestStalledSplitWithSlicesLeftUntouched(t *testing.T) {
	db := setupTestDB(t)
	m := newTestMonitor(db)

	// The split completed and persisted its batch; only the worker died.
	// Resetting this parent would double-split it.
	order := insertOrder(t, db, types.OrderStatusInProgress)
	insertSlice(t, db, order.OrderID, types.SliceStageScheduled, nil)
	ageOrder(t, db, order.OrderID, 10*time.Minute)

	require.NoError(t, m.Sweep())

	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusInProgress, updated.Status)
}

func TestFreshSplitLeftUntouched(t *testing.T) {
	db := setupTestDB(t)
	m := newTestMonitor(db)

	order := insertOrder(t, db, types.OrderStatusInProgress)

	require.NoError(t, m.Sweep())

	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusInProgress, updated.Status)
}

func TestStalledExecutionFailedWithTimeout(t *testing.T) {
	db := setupTestDB(t)
	m := newTestMonitor(db)

	order := insertOrder(t, db, types.OrderStatusInProgress)
	started := time.Now().Add(-5 * time.Minute)
	slice := insertSlice(t, db, order.OrderID, types.SliceStageInProgress, &started)

	require.NoError(t, m.Sweep())

	var updated types.OrderSlice
	require.NoError(t, db.Where("slice_id = ?", slice.SliceID).First(&updated).Error)
	assert.Equal(t, types.SliceStageFailed, updated.Stage)
	assert.Contains(t, updated.Error, "timed out")
	assert.Empty(t, updated.BrokerOrderID)
	assert.NotNil(t, updated.CompletedAt)

	// The timed-out slice was the parent's only slice, so the sweep also
	// finalizes the parent.
	var parent types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&parent).Error)
	assert.Equal(t, types.OrderStatusSkipped, parent.Status)
	assert.Contains(t, parent.SkipReason, "1 of 1 slices failed")
}

func TestFreshExecutionLeftUntouched(t *testing.T) {
	db := setupTestDB(t)
	m := newTestMonitor(db)

	order := insertOrder(t, db, types.OrderStatusInProgress)
	started := time.Now().Add(-5 * time.Second)
	slice := insertSlice(t, db, order.OrderID, types.SliceStageInProgress, &started)

	require.NoError(t, m.Sweep())

	var updated types.OrderSlice
	require.NoError(t, db.Where("slice_id = ?", slice.SliceID).First(&updated).Error)
	assert.Equal(t, types.SliceStageInProgress, updated.Stage)
	assert.Empty(t, updated.Error)
}

func TestSweepDoesNotTouchTerminalStates(t *testing.T) {
	db := setupTestDB(t)
	m := newTestMonitor(db)

	done := insertOrder(t, db, types.OrderStatusDone)
	ageOrder(t, db, done.OrderID, time.Hour)

	order := insertOrder(t, db, types.OrderStatusInProgress)
	completed := time.Now().Add(-time.Hour)
	slice := insertSlice(t, db, order.OrderID, types.SliceStageProcessed, &completed)

	require.NoError(t, m.Sweep())

	var updatedOrder types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", done.OrderID).First(&updatedOrder).Error)
	assert.Equal(t, types.OrderStatusDone, updatedOrder.Status)

	var updatedSlice types.OrderSlice
	require.NoError(t, db.Where("slice_id = ?", slice.SliceID).First(&updatedSlice).Error)
	assert.Equal(t, types.SliceStageProcessed, updatedSlice.Stage)
}

func TestResetConditionalOnCutoff(t *testing.T) {
	db := setupTestDB(t)
	d := NewDatabase(db)

	order := insertOrder(t, db, types.OrderStatusInProgress)

	// The row is fresh; a reset against an old cutoff must not clobber it.
	reset, err := d.ResetOrderToPending(order.OrderID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, reset)
}
