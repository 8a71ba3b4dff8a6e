package splitter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Splitter claims PENDING parent orders and turns each into a scheduled
// slice batch. Many instances may poll concurrently; the conditional claim
// guarantees each parent is split exactly once.
type Splitter struct {
	db       *Database
	interval time.Duration
}

func NewSplitter(gormDB *gorm.DB, interval time.Duration) *Splitter {
	return &Splitter{
		db:       NewDatabase(gormDB),
		interval: interval,
	}
}

// Start begins the split claim loop. Each tick drains the PENDING queue,
// claiming one parent at a time.
func (s *Splitter) Start(ctx context.Context) {
	logger := log.With().Str("component", "splitter").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting splitter")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down splitter")
			return
		case <-ticker.C:
			for {
				more, err := s.ProcessOne()
				if err != nil {
					logger.Error().Err(err).Msg("split iteration failed")
					break
				}
				if !more {
					break
				}
			}
		}
	}
}

// ProcessOne claims at most one PENDING parent and splits it. The returned
// bool reports whether another iteration may find more work.
func (s *Splitter) ProcessOne() (bool, error) {
	order, err := s.db.GetOldestPendingOrder()
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}

	claimed, err := s.db.ClaimOrder(order.OrderID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Another instance won this parent; the queue may still hold more.
		return true, nil
	}

	if err := s.splitOrder(order); err != nil {
		return true, err
	}
	return true, nil
}

// splitOrder partitions a claimed parent into slices and persists them in
// one batch. Idempotent: a retry after a partial crash that finds slices
// already persisted must not create a second batch. A config that cannot
// produce a valid plan marks the parent SKIPPED with the reason.
func (s *Splitter) splitOrder(order *types.ParentOrder) error {
	logger := log.With().
		Str("component", "splitter").
		Str("order_id", order.OrderID).
		Logger()

	existing, err := s.db.CountSlices(order.OrderID)
	if err != nil {
		return err
	}
	if existing > 0 {
		logger.Warn().
			Int64("existing_slices", existing).
			Msg("slices already persisted for order, skipping split")
		return nil
	}

	plans, err := buildPlan(order.TotalQuantity, order.SplitConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("order cannot be partitioned, marking skipped")
		return s.db.MarkSkipped(order.OrderID, err.Error())
	}

	now := time.Now()
	slices := make([]types.OrderSlice, len(plans))
	for i, plan := range plans {
		slices[i] = types.OrderSlice{
			SliceID:       uuid.New().String(),
			ParentOrderID: order.OrderID,
			SequenceIndex: i,
			Quantity:      plan.Quantity,
			ScheduledAt:   order.CreatedAt.Add(plan.Offset),
			Stage:         types.SliceStageScheduled,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := s.db.CreateSlices(slices); err != nil {
		return err
	}

	logger.Info().
		Int("num_slices", len(slices)).
		Int64("total_quantity", order.TotalQuantity).
		Bool("randomize", order.SplitConfig.Randomize).
		Time("first_scheduled_at", slices[0].ScheduledAt).
		Time("last_scheduled_at", slices[len(slices)-1].ScheduledAt).
		Msg("order split into slices")

	return nil
}
