package monitor

import (
	"fmt"
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

// GetStalledSplitOrders returns IN_PROGRESS parents that have not been
// touched since the cutoff.
func (d *Database) GetStalledSplitOrders(cutoff time.Time) ([]types.ParentOrder, error) {
	var orders []types.ParentOrder
	if err := d.db.Where("status = ? AND updated_at < ?", types.OrderStatusInProgress, cutoff).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CountSlices reports how many slices exist for a parent. A stalled parent
// with persisted slices completed its split and must not be reset.
func (d *Database) CountSlices(parentOrderID string) (int64, error) {
	var count int64
	if err := d.db.Model(&types.OrderSlice{}).
		Where("parent_order_id = ?", parentOrderID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ResetOrderToPending returns a crashed split attempt to the PENDING queue.
// Conditional on both state and cutoff so concurrent monitor instances
// never double-reset and a freshly-updated row is never clobbered.
func (d *Database) ResetOrderToPending(orderID string, cutoff time.Time) (bool, error) {
	result := d.db.Model(&types.ParentOrder{}).
		Where("order_id = ? AND status = ? AND updated_at < ?",
			orderID, types.OrderStatusInProgress, cutoff).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusPending,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetStalledSlices returns IN_PROGRESS slices whose execution started
// before the cutoff.
func (d *Database) GetStalledSlices(cutoff time.Time) ([]types.OrderSlice, error) {
	var slices []types.OrderSlice
	if err := d.db.Where("stage = ? AND started_at < ?", types.SliceStageInProgress, cutoff).
		Find(&slices).Error; err != nil {
		return nil, err
	}
	return slices, nil
}

// FailSliceWithTimeout forces a timed-out slice to FAILED with a synthetic
// error. Pure recovery: no broker call is made, since the original worker
// may have genuinely placed the order. Conditional on state and cutoff.
func (d *Database) FailSliceWithTimeout(sliceID string, cutoff time.Time) (bool, error) {
	now := time.Now()
	result := d.db.Model(&types.OrderSlice{}).
		Where("slice_id = ? AND stage = ? AND started_at < ?",
			sliceID, types.SliceStageInProgress, cutoff).
		Updates(map[string]interface{}{
			"stage":        types.SliceStageFailed,
			"error":        "execution timed out before a result was recorded",
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CountSlicesByStage recomputes the slice aggregate for a parent directly
// from the slice table.
func (d *Database) CountSlicesByStage(parentOrderID string) (types.SliceCounts, error) {
	var rows []struct {
		Stage string
		N     int64
	}
	if err := d.db.Model(&types.OrderSlice{}).
		Select("stage, COUNT(*) as n").
		Where("parent_order_id = ?", parentOrderID).
		Group("stage").
		Scan(&rows).Error; err != nil {
		return types.SliceCounts{}, err
	}

	var counts types.SliceCounts
	for _, row := range rows {
		counts.Total += row.N
		switch row.Stage {
		case types.SliceStageScheduled:
			counts.Scheduled = row.N
		case types.SliceStageInProgress:
			counts.Running = row.N
		case types.SliceStageProcessed:
			counts.Processed = row.N
		case types.SliceStageFailed:
			counts.Failed = row.N
		}
	}
	return counts, nil
}

// FinalizeParent applies the terminal parent transition after a recovery
// action, using the same recompute-from-source rule as the executor.
func (d *Database) FinalizeParent(parentOrderID string) error {
	counts, err := d.CountSlicesByStage(parentOrderID)
	if err != nil {
		return err
	}
	if !counts.AllTerminal() {
		return nil
	}

	updates := map[string]interface{}{
		"status":     types.OrderStatusDone,
		"updated_at": time.Now(),
	}
	if !counts.AllProcessed() {
		updates["status"] = types.OrderStatusSkipped
		updates["skip_reason"] = fmt.Sprintf("%d of %d slices failed", counts.Failed, counts.Total)
	}

	return d.db.Model(&types.ParentOrder{}).
		Where("order_id = ? AND status = ?", parentOrderID, types.OrderStatusInProgress).
		Updates(updates).Error
}
