package executor

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/broker"
	"github.com/ksred/pulse-api/internal/database"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// recordingBroker records every placement and can be told to reject.
type recordingBroker struct {
	mu     sync.Mutex
	calls  []brokerCall
	reject bool
}

type brokerCall struct {
	Exchange string
	Symbol   string
	Side     string
	Quantity int64
}

func (b *recordingBroker) PlaceOrder(exchange, symbol, side string, quantity int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, brokerCall{exchange, symbol, side, quantity})
	if b.reject {
		return "", &broker.BrokerError{Message: "insufficient margin"}
	}
	return fmt.Sprintf("BRK-TEST-%d", len(b.calls)), nil
}

func (b *recordingBroker) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "executor_test.db"))
	require.NoError(t, err)
	return db
}

// insertOrderWithSlices seeds an IN_PROGRESS parent with SCHEDULED slices
// already due for execution.
func insertOrderWithSlices(t *testing.T, db *gorm.DB, quantities []int64) (*types.ParentOrder, []types.OrderSlice) {
	order := &types.ParentOrder{
		OrderID:        uuid.New().String(),
		OrderUniqueKey: uuid.New().String(),
		ClientID:       "test-client",
		Exchange:       "NSE",
		Symbol:         "TCS",
		Side:           types.SideSell,
		Status:         types.OrderStatusInProgress,
	}
	for _, q := range quantities {
		order.TotalQuantity += q
	}
	require.NoError(t, db.Create(order).Error)

	slices := make([]types.OrderSlice, len(quantities))
	for i, q := range quantities {
		slices[i] = types.OrderSlice{
			SliceID:       uuid.New().String(),
			ParentOrderID: order.OrderID,
			SequenceIndex: i,
			Quantity:      q,
			ScheduledAt:   time.Now().Add(-time.Minute),
			Stage:         types.SliceStageScheduled,
		}
	}
	require.NoError(t, db.Create(&slices).Error)
	return order, slices
}

func TestProcessDueSlices(t *testing.T) {
	db := setupTestDB(t)
	b := &recordingBroker{}
	e := NewExecutor(db, b, time.Second, 20)

	order, _ := insertOrderWithSlices(t, db, []int64{30, 30, 40})

	require.NoError(t, e.ProcessDueSlices())

	assert.Equal(t, 3, b.callCount())
	for _, call := range b.calls {
		assert.Equal(t, "NSE", call.Exchange)
		assert.Equal(t, "TCS", call.Symbol)
		assert.Equal(t, types.SideSell, call.Side)
	}

	var slices []types.OrderSlice
	require.NoError(t, db.Where("parent_order_id = ?", order.OrderID).Find(&slices).Error)
	for _, slice := range slices {
		assert.Equal(t, types.SliceStageProcessed, slice.Stage)
		assert.NotEmpty(t, slice.BrokerOrderID)
		assert.NotNil(t, slice.StartedAt)
		assert.NotNil(t, slice.CompletedAt)
	}

	// All slices processed: parent finalizes as DONE.
	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusDone, updated.Status)
}

func TestBrokerRejectionFailsSlice(t *testing.T) {
	db := setupTestDB(t)
	b := &recordingBroker{reject: true}
	e := NewExecutor(db, b, time.Second, 20)

	order, _ := insertOrderWithSlices(t, db, []int64{50, 50})

	require.NoError(t, e.ProcessDueSlices())

	var slices []types.OrderSlice
	require.NoError(t, db.Where("parent_order_id = ?", order.OrderID).Find(&slices).Error)
	for _, slice := range slices {
		assert.Equal(t, types.SliceStageFailed, slice.Stage)
		assert.Contains(t, slice.Error, "insufficient margin")
		assert.Empty(t, slice.BrokerOrderID)
	}

	// Any failed slice means the parent cannot complete as DONE.
	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusSkipped, updated.Status)
	assert.Contains(t, updated.SkipReason, "2 of 2 slices failed")
}

func TestFutureSlicesNotPicked(t *testing.T) {
	db := setupTestDB(t)
	b := &recordingBroker{}
	e := NewExecutor(db, b, time.Second, 20)

	order, slices := insertOrderWithSlices(t, db, []int64{10})
	require.NoError(t, db.Model(&types.OrderSlice{}).
		Where("slice_id = ?", slices[0].SliceID).
		UpdateColumn("scheduled_at", time.Now().Add(time.Hour)).Error)

	require.NoError(t, e.ProcessDueSlices())

	assert.Zero(t, b.callCount())

	var slice types.OrderSlice
	require.NoError(t, db.Where("slice_id = ?", slices[0].SliceID).First(&slice).Error)
	assert.Equal(t, types.SliceStageScheduled, slice.Stage)

	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusInProgress, updated.Status)
}

func TestConcurrentWorkersSingleBrokerCallPerSlice(t *testing.T) {
	db := setupTestDB(t)
	b := &recordingBroker{}

	_, slices := insertOrderWithSlices(t, db, []int64{20, 20, 20, 20, 20})

	// Several executor instances over the same store. The optimistic claim
	// must hand each slice to exactly one of them.
	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := NewExecutor(db, b, time.Second, 20)
			assert.NoError(t, e.ProcessDueSlices())
		}()
	}
	wg.Wait()

	assert.Equal(t, len(slices), b.callCount())
}

func TestClaimSliceExactlyOneWinner(t *testing.T) {
	db := setupTestDB(t)
	d := NewDatabase(db)

	_, slices := insertOrderWithSlices(t, db, []int64{10})

	const workers = 8
	winners := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := d.ClaimSlice(slices[0].SliceID)
			assert.NoError(t, err)
			winners <- claimed
		}()
	}
	wg.Wait()
	close(winners)

	var count int
	for claimed := range winners {
		if claimed {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFinalizeParentWaitsForAllTerminal(t *testing.T) {
	db := setupTestDB(t)
	d := NewDatabase(db)

	order, slices := insertOrderWithSlices(t, db, []int64{10, 10})
	require.NoError(t, db.Model(&types.OrderSlice{}).
		Where("slice_id = ?", slices[0].SliceID).
		UpdateColumn("stage", types.SliceStageProcessed).Error)

	// One slice still SCHEDULED: no terminal transition yet.
	require.NoError(t, d.FinalizeParent(order.OrderID))

	var updated types.ParentOrder
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusInProgress, updated.Status)

	require.NoError(t, db.Model(&types.OrderSlice{}).
		Where("slice_id = ?", slices[1].SliceID).
		UpdateColumn("stage", types.SliceStageProcessed).Error)

	require.NoError(t, d.FinalizeParent(order.OrderID))
	require.NoError(t, db.Where("order_id = ?", order.OrderID).First(&updated).Error)
	assert.Equal(t, types.OrderStatusDone, updated.Status)
}
