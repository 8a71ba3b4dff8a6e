package types

import "time"

// CreateOrderRequest is the inbound payload for idempotent order creation.
// Randomize is a pointer so an omitted field defaults to true.
type CreateOrderRequest struct {
	OrderUniqueKey string              `json:"order_unique_key" binding:"required"`
	Exchange       string              `json:"exchange" binding:"required"`
	Symbol         string              `json:"symbol" binding:"required"`
	Side           string              `json:"side" binding:"required"`
	TotalQuantity  int64               `json:"total_quantity" binding:"required"`
	SplitConfig    *SplitConfigRequest `json:"split_config" binding:"required"`
}

type SplitConfigRequest struct {
	NumSplits       int   `json:"num_splits"`
	DurationMinutes int   `json:"duration_minutes"`
	Randomize       *bool `json:"randomize"`
}

// Config resolves the request into a SplitConfig, applying the
// randomize-by-default rule.
func (r *SplitConfigRequest) Config() SplitConfig {
	randomize := true
	if r.Randomize != nil {
		randomize = *r.Randomize
	}
	return SplitConfig{
		NumSplits:       r.NumSplits,
		DurationMinutes: r.DurationMinutes,
		Randomize:       randomize,
	}
}

// CreateOrderResponse acknowledges acceptance of a parent order.
type CreateOrderResponse struct {
	OrderID        string `json:"order_id"`
	OrderUniqueKey string `json:"order_unique_key"`
	Status         string `json:"status"`
}

// OrderStatusResponse returns a parent order together with its slices and
// the live aggregate recomputed from the slice table.
type OrderStatusResponse struct {
	Order     *ParentOrder `json:"order"`
	Slices    []OrderSlice `json:"slices"`
	Counts    SliceCounts  `json:"slice_counts"`
	Timestamp time.Time    `json:"timestamp"`
}
