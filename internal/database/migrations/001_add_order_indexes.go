package migrations

import (
	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/types"
)

// AddOrderIndexes creates the orders table and the indexes the dispatcher
// and reconciler query against.
func AddOrderIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Order{}); err != nil {
		return err
	}

	// Raw SQL for the composite indexes to have more control over them
	indexes := []string{
		// Dispatch scans: undispatched pending orders
		`CREATE INDEX IF NOT EXISTS idx_orders_status_dispatched
		 ON orders(status, dispatched_at)`,

		// Reconciliation scans: dispatched orders by venue id
		`CREATE INDEX IF NOT EXISTS idx_orders_external_id
		 ON orders(external_order_id)`,

		// Profit queries: filled orders per account and symbol in fill order
		`CREATE INDEX IF NOT EXISTS idx_orders_account_symbol_filled
		 ON orders(account_id, symbol_id, filled_at)`,
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return err
		}
	}

	return nil
}
