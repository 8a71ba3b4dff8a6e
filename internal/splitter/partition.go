package splitter

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/ksred/pulse-api/internal/types"
)

// slicePlan is one planned slice: a quantity and its schedule offset from
// the parent order's creation time.
type slicePlan struct {
	Quantity int64
	Offset   time.Duration
}

// buildPlan partitions a parent's total quantity and split window into
// NumSplits parts. Quantities always sum to total exactly and every part is
// at least 1; offsets are non-decreasing and stay inside [0, window].
// An error here means the config cannot produce a valid plan and the parent
// must be skipped.
func buildPlan(total int64, cfg types.SplitConfig) ([]slicePlan, error) {
	n := cfg.NumSplits
	if n < types.MinSplits || n > types.MaxSplits {
		return nil, fmt.Errorf("num_splits %d outside [%d, %d]", n, types.MinSplits, types.MaxSplits)
	}
	if cfg.DurationMinutes < types.MinDurationMinutes || cfg.DurationMinutes > types.MaxDurationMinutes {
		return nil, fmt.Errorf("duration_minutes %d outside [%d, %d]",
			cfg.DurationMinutes, types.MinDurationMinutes, types.MaxDurationMinutes)
	}
	if total < int64(n) {
		return nil, fmt.Errorf("total quantity %d cannot fill %d slices with at least 1 each", total, n)
	}

	quantities := partitionQuantity(total, n, cfg.Randomize)
	offsets := partitionWindow(cfg.Duration(), n, cfg.Randomize)

	plans := make([]slicePlan, n)
	for i := range plans {
		plans[i] = slicePlan{
			Quantity: quantities[i],
			Offset:   offsets[i],
		}
	}
	return plans, nil
}

// partitionQuantity splits total into n positive parts summing to total.
// Non-randomized parts are equal with the remainder absorbed by the last
// part. Randomized parts jitter ±20% around the equal share; the residual
// is applied to the last part and any shortfall below 1 is taken back from
// earlier parts.
func partitionQuantity(total int64, n int, randomize bool) []int64 {
	base := total / int64(n)
	quantities := make([]int64, n)

	if !randomize {
		for i := range quantities {
			quantities[i] = base
		}
		quantities[n-1] += total - base*int64(n)
		return quantities
	}

	span := base / 5 // 20% of the equal share
	var sum int64
	for i := 0; i < n; i++ {
		q := base
		if span > 0 {
			q += rand.Int63n(2*span+1) - span
		}
		if q < 1 {
			q = 1
		}
		quantities[i] = q
		sum += q
	}

	// Residual correction on the last slice keeps the sum exact.
	quantities[n-1] += total - sum

	// The residual can push the last slice below 1; claw the deficit back
	// from earlier slices that have quantity to spare. Feasible because
	// total >= n.
	for i := 0; quantities[n-1] < 1 && i < n-1; i++ {
		if quantities[i] <= 1 {
			continue
		}
		take := quantities[i] - 1
		if need := 1 - quantities[n-1]; take > need {
			take = need
		}
		quantities[i] -= take
		quantities[n-1] += take
	}

	return quantities
}

// partitionWindow spreads n schedule offsets over the split window.
// Non-randomized offsets are equally spaced. Randomized offsets jitter
// ±20% of the spacing interval, clamped to [0, window] and re-sorted so
// they stay non-decreasing by sequence index.
func partitionWindow(window time.Duration, n int, randomize bool) []time.Duration {
	interval := window / time.Duration(n)
	offsets := make([]time.Duration, n)

	for i := range offsets {
		offsets[i] = time.Duration(i) * interval
	}
	if !randomize {
		return offsets
	}

	span := int64(interval) / 5 // 20% of the spacing interval
	for i := range offsets {
		if span > 0 {
			offsets[i] += time.Duration(rand.Int63n(2*span+1) - span)
		}
		if offsets[i] < 0 {
			offsets[i] = 0
		}
		if offsets[i] > window {
			offsets[i] = window
		}
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}
