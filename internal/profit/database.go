package profit

import (
	"errors"
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

// GetFilledBuysBefore returns an account's filled buys for one symbol whose
// fill time precedes the given instant, oldest first. Ordering matters: the
// caller consumes these as FIFO lots.
func (d *Database) GetFilledBuysBefore(accountID, symbolID uint, before time.Time) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("account_id = ? AND symbol_id = ? AND side = ? AND status = ? AND filled_at < ?",
			accountID, symbolID, types.OrderSideBuy, types.OrderStatusFilled, before).
		Order("filled_at asc").
		Find(&orders).Error
	return orders, err
}

// GetFilledSellsBetween returns an account's filled sells in [from, to),
// oldest first.
func (d *Database) GetFilledSellsBetween(accountID uint, from, to time.Time) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("account_id = ? AND side = ? AND status = ? AND filled_at >= ? AND filled_at < ?",
			accountID, types.OrderSideSell, types.OrderStatusFilled, from, to).
		Order("filled_at asc").
		Find(&orders).Error
	return orders, err
}

// UpsertDailyProfit writes the (account, date) aggregate, overwriting any
// existing row in place.
func (d *Database) UpsertDailyProfit(record *types.DailyRealizedProfit) error {
	var existing types.DailyRealizedProfit
	err := d.db.
		Where("account_id = ? AND date = ?", record.AccountID, record.Date).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(record).Error
	}
	if err != nil {
		return err
	}

	existing.RealizedProfit = record.RealizedProfit
	existing.RealizedProfitRate = record.RealizedProfitRate
	existing.TotalBuyAmount = record.TotalBuyAmount
	existing.TotalSellAmount = record.TotalSellAmount
	return d.db.Save(&existing).Error
}

func (d *Database) GetDailyProfit(accountID uint, date time.Time) (*types.DailyRealizedProfit, error) {
	var record types.DailyRealizedProfit
	err := d.db.
		Where("account_id = ? AND date = ?", accountID, date).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (d *Database) GetAccountIDs() ([]uint, error) {
	var ids []uint
	err := d.db.Model(&types.Account{}).Pluck("id", &ids).Error
	return ids, err
}

// GetAccountIDsByUser returns the ids of one user's accounts.
func (d *Database) GetAccountIDsByUser(userID uint) ([]uint, error) {
	var ids []uint
	err := d.db.Model(&types.Account{}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error
	return ids, err
}
