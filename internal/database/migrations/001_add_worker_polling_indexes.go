package migrations

import (
	"gorm.io/gorm"
)

// AddWorkerPollingIndexes creates the composite indexes the worker loops
// poll against: splitter scans PENDING parents by age, the executor scans
// due SCHEDULED slices, and the timeout monitor sweeps IN_PROGRESS rows by
// last update / start time.
func AddWorkerPollingIndexes(db *gorm.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_parent_orders_status_created_at
			ON parent_orders(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_parent_orders_status_updated_at
			ON parent_orders(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_order_slices_stage_scheduled_at
			ON order_slices(stage, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_order_slices_stage_started_at
			ON order_slices(stage, started_at)`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}
