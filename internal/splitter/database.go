package splitter

import (
	"errors"
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

// GetOldestPendingOrder returns the PENDING parent that has waited longest,
// or nil when the queue is empty.
func (d *Database) GetOldestPendingOrder() (*types.ParentOrder, error) {
	var order types.ParentOrder
	if err := d.db.Where("status = ?", types.OrderStatusPending).
		Order("created_at ASC").
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ClaimOrder attempts the exclusive PENDING -> IN_PROGRESS transition for
// one parent. Zero rows affected means another worker instance won the
// claim; that is not an error. The transition is committed before any split
// work happens so a crash leaves a row the timeout monitor can recover.
func (d *Database) ClaimOrder(orderID string) (bool, error) {
	result := d.db.Model(&types.ParentOrder{}).
		Where("order_id = ? AND status = ?", orderID, types.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     types.OrderStatusInProgress,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CountSlices reports how many slices already exist for a parent; non-zero
// means a previous split attempt persisted its batch.
func (d *Database) CountSlices(parentOrderID string) (int64, error) {
	var count int64
	if err := d.db.Model(&types.OrderSlice{}).
		Where("parent_order_id = ?", parentOrderID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CreateSlices persists the whole slice batch for a parent in one
// transaction.
func (d *Database) CreateSlices(slices []types.OrderSlice) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&slices).Error
	})
}

// MarkSkipped records a terminal, non-retryable split failure on the
// parent.
func (d *Database) MarkSkipped(orderID, reason string) error {
	result := d.db.Model(&types.ParentOrder{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":      types.OrderStatusSkipped,
			"skip_reason": reason,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("order not found")
	}
	return nil
}
