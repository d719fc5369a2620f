package trading

import (
	"time"

	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetPendingOrders returns undispatched orders with the associations the
// dispatcher needs: account, its broker, and the symbol.
func (d *Database) GetPendingOrders() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Preload("Account").
		Preload("Account.Broker").
		Preload("Symbol").
		Where("status = ? AND dispatched_at IS NULL", types.OrderStatusPending).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}

// ClaimOrder atomically marks an order as taken by this dispatch pass. The
// conditional update makes concurrent passes safe: only one caller observes
// a row change, every other caller must skip the order.
func (d *Database) ClaimOrder(order *types.Order) (bool, error) {
	now := time.Now()
	result := d.db.Model(&types.Order{}).
		Where("id = ? AND status = ? AND dispatched_at IS NULL", order.ID, types.OrderStatusPending).
		Update("dispatched_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	order.DispatchedAt = &now
	return true, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

// GetOpenOrders returns dispatched orders awaiting a terminal state. Orders
// without a venue id cannot be queried and are excluded.
func (d *Database) GetOpenOrders() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Preload("Account").
		Preload("Account.Broker").
		Preload("Symbol").
		Where("status = ? AND external_order_id <> ''", types.OrderStatusPartiallyFilled).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}
