package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/database/migrations"
	"github.com/as950118/auto-trade/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddOrderIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Broker{},
		&types.Symbol{},
		&types.Account{},
		&types.Holding{},
		&types.DailyRealizedProfit{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
