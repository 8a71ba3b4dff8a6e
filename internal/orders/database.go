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

func (d *Database) GetOrderByOrderIDAndClientID(orderID, clientID string) (*types.ParentOrder, error) {
	var order types.ParentOrder
	if err := d.db.Where("order_id = ? AND client_id = ?", orderID, clientID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderByUniqueKey looks up the order owning a client dedup key.
func (d *Database) GetOrderByUniqueKey(key string) (*types.ParentOrder, error) {
	var order types.ParentOrder
	if err := d.db.Where("order_unique_key = ?", key).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetSlices returns a parent's slices in sequence order.
func (d *Database) GetSlices(parentOrderID string) ([]types.OrderSlice, error) {
	var slices []types.OrderSlice
	if err := d.db.Where("parent_order_id = ?", parentOrderID).
		Order("sequence_index ASC").
		Find(&slices).Error; err != nil {
		return nil, err
	}
	return slices, nil
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
