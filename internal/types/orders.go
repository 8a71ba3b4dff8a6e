package types

import (
	"time"

	"gorm.io/gorm"
)

// Parent order lifecycle statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusDone       = "DONE"
	OrderStatusSkipped    = "SKIPPED"
)

// Slice lifecycle stages
const (
	SliceStageScheduled  = "SCHEDULED"
	SliceStageInProgress = "IN_PROGRESS"
	SliceStageProcessed  = "PROCESSED"
	SliceStageFailed     = "FAILED"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Split configuration bounds enforced at ingress
const (
	MinSplits          = 2
	MaxSplits          = 100
	MinDurationMinutes = 1
	MaxDurationMinutes = 1440
)

// SplitConfig describes how a parent order is partitioned into slices.
// Randomize applies a ±20% jitter to both quantities and schedule offsets.
type SplitConfig struct {
	NumSplits       int  `json:"num_splits"`
	DurationMinutes int  `json:"duration_minutes"`
	Randomize       bool `json:"randomize"`
}

// Duration returns the split window as a time.Duration.
func (c SplitConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// ParentOrder is a client-submitted order before splitting.
// OrderUniqueKey is the client-supplied dedup key and is globally unique.
type ParentOrder struct {
	gorm.Model     `json:"-"`
	OrderID        string      `gorm:"uniqueIndex" json:"order_id"`
	OrderUniqueKey string      `gorm:"uniqueIndex" json:"order_unique_key"`
	ClientID       string      `json:"client_id"`
	Exchange       string      `json:"exchange"`
	Symbol         string      `json:"symbol"`
	Side           string      `json:"side"` // BUY or SELL
	TotalQuantity  int64       `json:"total_quantity"`
	SplitConfig    SplitConfig `gorm:"embedded;embeddedPrefix:split_" json:"split_config"`
	Status         string      `json:"status"` // PENDING, IN_PROGRESS, DONE, SKIPPED
	SkipReason     string      `json:"skip_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SamePayload reports whether another submission carries an identical
// payload (instrument, side, quantity and split config). Used to decide
// between idempotent return and duplicate-key conflict.
func (o *ParentOrder) SamePayload(other *ParentOrder) bool {
	return o.Exchange == other.Exchange &&
		o.Symbol == other.Symbol &&
		o.Side == other.Side &&
		o.TotalQuantity == other.TotalQuantity &&
		o.SplitConfig == other.SplitConfig
}

// OrderSlice is one child unit of a parent order: a portion of quantity
// scheduled for a specific time. Slices never outlive their parent and are
// never reassigned.
type OrderSlice struct {
	gorm.Model    `json:"-"`
	SliceID       string     `gorm:"uniqueIndex" json:"slice_id"`
	ParentOrderID string     `gorm:"index" json:"parent_order_id"`
	SequenceIndex int        `json:"sequence_index"`
	Quantity      int64      `json:"quantity"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Stage         string     `json:"stage"` // SCHEDULED, IN_PROGRESS, PROCESSED, FAILED
	BrokerOrderID string     `json:"broker_order_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SliceCounts is the recomputed aggregate over a parent's slices. It is
// always derived from the slice table, never from a stored counter.
type SliceCounts struct {
	Total     int64 `json:"total"`
	Scheduled int64 `json:"scheduled"`
	Running   int64 `json:"running"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// AllProcessed reports whether every slice reached PROCESSED.
func (c SliceCounts) AllProcessed() bool {
	return c.Total > 0 && c.Processed == c.Total
}

// AllTerminal reports whether every slice reached a terminal stage.
func (c SliceCounts) AllTerminal() bool {
	return c.Total > 0 && c.Processed+c.Failed == c.Total
}
