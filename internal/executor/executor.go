package executor

import (
	"context"
	"time"

	"github.com/ksred/pulse-api/internal/broker"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Executor polls for due slices, claims them optimistically and dispatches
// each to the broker. The claim commits before the broker call so a crash
// mid-dispatch leaves a recoverable IN_PROGRESS row instead of a held lock.
type Executor struct {
	db        *Database
	broker    broker.Broker
	interval  time.Duration
	batchSize int
}

func NewExecutor(gormDB *gorm.DB, b broker.Broker, interval time.Duration, batchSize int) *Executor {
	return &Executor{
		db:        NewDatabase(gormDB),
		broker:    b,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins the slice execution loop, tuned for sub-second latency.
func (e *Executor) Start(ctx context.Context) {
	logger := log.With().Str("component", "slice_executor").Logger()
	logger.Info().
		Dur("interval", e.interval).
		Int("batch_size", e.batchSize).
		Msg("starting slice executor")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down slice executor")
			return
		case <-ticker.C:
			if err := e.ProcessDueSlices(); err != nil {
				logger.Error().Err(err).Msg("failed to process due slices")
			}
		}
	}
}

// ProcessDueSlices runs one poll iteration: select due candidates, claim
// each, dispatch the claimed ones. A slice lost to another worker is
// skipped silently; a failed slice never halts the batch.
func (e *Executor) ProcessDueSlices() error {
	logger := log.With().Str("component", "slice_executor").Logger()

	slices, err := e.db.GetDueSlices(e.batchSize)
	if err != nil {
		return err
	}

	for _, slice := range slices {
		claimed, err := e.db.ClaimSlice(slice.SliceID)
		if err != nil {
			logger.Error().Err(err).
				Str("slice_id", slice.SliceID).
				Msg("failed to claim slice")
			continue
		}
		if !claimed {
			// Lost the race to another worker instance.
			continue
		}

		e.executeSlice(&slice)
	}

	return nil
}

// executeSlice makes exactly one broker call for a successfully claimed
// slice, records the terminal outcome on the row and recomputes the owning
// parent's aggregate.
func (e *Executor) executeSlice(slice *types.OrderSlice) {
	logger := log.With().
		Str("component", "slice_executor").
		Str("slice_id", slice.SliceID).
		Str("order_id", slice.ParentOrderID).
		Int("sequence_index", slice.SequenceIndex).
		Int64("quantity", slice.Quantity).
		Logger()

	order, err := e.db.GetOrder(slice.ParentOrderID)
	if err != nil || order == nil {
		logger.Error().Err(err).Msg("failed to load parent order for slice")
		if markErr := e.db.MarkFailed(slice.SliceID, "parent order not found"); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to record slice failure")
		}
		return
	}

	brokerOrderID, err := e.broker.PlaceOrder(order.Exchange, order.Symbol, order.Side, slice.Quantity)
	if err != nil {
		logger.Warn().Err(err).Msg("broker rejected slice")
		if markErr := e.db.MarkFailed(slice.SliceID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to record slice failure")
			return
		}
	} else {
		logger.Info().
			Str("broker_order_id", brokerOrderID).
			Msg("slice processed")
		if markErr := e.db.MarkProcessed(slice.SliceID, brokerOrderID); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to record slice success")
			return
		}
	}

	if err := e.db.FinalizeParent(slice.ParentOrderID); err != nil {
		logger.Error().Err(err).Msg("failed to finalize parent order")
	}
}
