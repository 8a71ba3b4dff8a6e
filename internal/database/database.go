package database

import (
	"fmt"

	"github.com/ksred/pulse-api/internal/database/migrations"
	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection.
// TranslateError is enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey, which the ingress dedup race depends on.
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "pulse.db"
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&types.ParentOrder{},
		&types.OrderSlice{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddWorkerPollingIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
