package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Monitor periodically reclaims work stuck in an intermediate state past
// its deadline: crashed split attempts go back to PENDING, timed-out slice
// executions are failed with a synthetic error.
type Monitor struct {
	db               *Database
	interval         time.Duration
	splitTimeout     time.Duration
	executionTimeout time.Duration
}

func NewMonitor(gormDB *gorm.DB, interval, splitTimeout, executionTimeout time.Duration) *Monitor {
	return &Monitor{
		db:               NewDatabase(gormDB),
		interval:         interval,
		splitTimeout:     splitTimeout,
		executionTimeout: executionTimeout,
	}
}

// Start begins the periodic timeout sweep.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "timeout_monitor").Logger()
	logger.Info().
		Dur("interval", m.interval).
		Dur("split_timeout", m.splitTimeout).
		Dur("execution_timeout", m.executionTimeout).
		Msg("starting timeout monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down timeout monitor")
			return
		case <-ticker.C:
			if err := m.Sweep(); err != nil {
				logger.Error().Err(err).Msg("timeout sweep failed")
			}
		}
	}
}

// Sweep runs one recovery pass over stalled parents and slices.
func (m *Monitor) Sweep() error {
	if err := m.recoverStalledSplits(); err != nil {
		return err
	}
	return m.recoverStalledExecutions()
}

// recoverStalledSplits resets crashed split attempts to PENDING. A parent
// that already has slices finished its split and only lost the status
// write; resetting it would double-split, so it is left untouched.
func (m *Monitor) recoverStalledSplits() error {
	logger := log.With().Str("component", "timeout_monitor").Logger()

	cutoff := time.Now().Add(-m.splitTimeout)
	orders, err := m.db.GetStalledSplitOrders(cutoff)
	if err != nil {
		return err
	}

	for _, order := range orders {
		sliceCount, err := m.db.CountSlices(order.OrderID)
		if err != nil {
			logger.Error().Err(err).
				Str("order_id", order.OrderID).
				Msg("failed to count slices for stalled order")
			continue
		}
		if sliceCount > 0 {
			// Split completed; the executor and finalizer will move this
			// parent forward.
			continue
		}

		reset, err := m.db.ResetOrderToPending(order.OrderID, cutoff)
		if err != nil {
			logger.Error().Err(err).
				Str("order_id", order.OrderID).
				Msg("failed to reset stalled order")
			continue
		}
		if reset {
			logger.Warn().
				Str("order_id", order.OrderID).
				Time("last_updated", order.UpdatedAt).
				Msg("reset crashed split attempt to pending")
		}
	}

	return nil
}

// recoverStalledExecutions fails slices stuck IN_PROGRESS past the
// execution timeout. No broker call is made: the original worker may have
// placed the order before crashing, and broker-side truth is not
// reconciled here.
func (m *Monitor) recoverStalledExecutions() error {
	logger := log.With().Str("component", "timeout_monitor").Logger()

	cutoff := time.Now().Add(-m.executionTimeout)
	slices, err := m.db.GetStalledSlices(cutoff)
	if err != nil {
		return err
	}

	for _, slice := range slices {
		failed, err := m.db.FailSliceWithTimeout(slice.SliceID, cutoff)
		if err != nil {
			logger.Error().Err(err).
				Str("slice_id", slice.SliceID).
				Msg("failed to time out stalled slice")
			continue
		}
		if !failed {
			// Another monitor instance got here first, or the worker
			// finished in the meantime.
			continue
		}

		logger.Warn().
			Str("slice_id", slice.SliceID).
			Str("order_id", slice.ParentOrderID).
			Msg("failed slice on execution timeout")

		if err := m.db.FinalizeParent(slice.ParentOrderID); err != nil {
			logger.Error().Err(err).
				Str("order_id", slice.ParentOrderID).
				Msg("failed to finalize parent after timeout")
		}
	}

	return nil
}
