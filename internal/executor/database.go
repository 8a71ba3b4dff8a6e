package executor

import (
	"errors"
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

// GetDueSlices returns SCHEDULED slices whose scheduled time has passed,
// oldest first, bounded by limit.
func (d *Database) GetDueSlices(limit int) ([]types.OrderSlice, error) {
	var slices []types.OrderSlice
	if err := d.db.Where("stage = ? AND scheduled_at <= ?", types.SliceStageScheduled, time.Now()).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&slices).Error; err != nil {
		return nil, err
	}
	return slices, nil
}

// ClaimSlice attempts the optimistic SCHEDULED -> IN_PROGRESS transition.
// Zero rows affected means another worker already claimed the slice; the
// caller skips it without error.
func (d *Database) ClaimSlice(sliceID string) (bool, error) {
	now := time.Now()
	result := d.db.Model(&types.OrderSlice{}).
		Where("slice_id = ? AND stage = ?", sliceID, types.SliceStageScheduled).
		Updates(map[string]interface{}{
			"stage":      types.SliceStageInProgress,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkProcessed records a successful broker dispatch.
func (d *Database) MarkProcessed(sliceID, brokerOrderID string) error {
	now := time.Now()
	result := d.db.Model(&types.OrderSlice{}).
		Where("slice_id = ? AND stage = ?", sliceID, types.SliceStageInProgress).
		Updates(map[string]interface{}{
			"stage":           types.SliceStageProcessed,
			"broker_order_id": brokerOrderID,
			"completed_at":    now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("slice %s not in progress", sliceID)
	}
	return nil
}

// MarkFailed records a broker rejection. Terminal: there is no automatic
// retry.
func (d *Database) MarkFailed(sliceID, errMsg string) error {
	now := time.Now()
	result := d.db.Model(&types.OrderSlice{}).
		Where("slice_id = ? AND stage = ?", sliceID, types.SliceStageInProgress).
		Updates(map[string]interface{}{
			"stage":        types.SliceStageFailed,
			"error":        errMsg,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("slice %s not in progress", sliceID)
	}
	return nil
}

// GetOrder retrieves the parent order that owns a slice.
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

// CountSlicesByStage recomputes the slice aggregate for a parent directly
// from the slice table. Never maintained as an incrementing counter, so
// concurrent slice completions cannot lose updates.
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

// FinalizeParent recomputes a parent's aggregate and applies the terminal
// transition when every slice is terminal: DONE only when all slices are
// PROCESSED, SKIPPED when any slice failed. The update is conditional on
// IN_PROGRESS so concurrent finalizers settle on one winner.
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
