package portfolio

import (
	"errors"

	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetAccounts() ([]types.Account, error) {
	var accounts []types.Account
	err := d.db.Preload("Broker").Find(&accounts).Error
	return accounts, err
}

func (d *Database) GetSymbolByTicker(ticker string) (*types.Symbol, error) {
	var symbol types.Symbol
	err := d.db.Where("ticker = ?", ticker).First(&symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &symbol, nil
}

func (d *Database) SaveSymbol(symbol *types.Symbol) error {
	return d.db.Save(symbol).Error
}

func (d *Database) GetHolding(accountID, symbolID uint) (*types.Holding, error) {
	var holding types.Holding
	err := d.db.
		Where("account_id = ? AND symbol_id = ?", accountID, symbolID).
		First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &holding, nil
}

func (d *Database) GetHoldingsByAccount(accountID uint) ([]types.Holding, error) {
	var holdings []types.Holding
	err := d.db.
		Preload("Symbol").
		Where("account_id = ?", accountID).
		Find(&holdings).Error
	return holdings, err
}

// SaveHolding recomputes the derived valuation fields and persists the row.
func (d *Database) SaveHolding(holding *types.Holding) error {
	holding.Recompute()
	return d.db.Save(holding).Error
}

// DeleteHoldingsNotIn removes the account's holdings whose symbol is absent
// from keep. Rows are hard-deleted: a soft-deleted row would collide with
// the (account, symbol) unique index when the position reappears. An empty
// keep list clears the account.
func (d *Database) DeleteHoldingsNotIn(accountID uint, keep []uint) error {
	query := d.db.Unscoped().Where("account_id = ?", accountID)
	if len(keep) > 0 {
		query = query.Where("symbol_id NOT IN ?", keep)
	}
	return query.Delete(&types.Holding{}).Error
}

// UpdateAccountBalances writes the snapshot-derived balance fields.
func (d *Database) UpdateAccountBalances(account *types.Account) error {
	return d.db.Model(account).Updates(map[string]interface{}{
		"cash_balance_krw": account.CashBalanceKRW,
		"stock_value_krw":  account.StockValueKRW,
		"total_assets_krw": account.TotalAssetsKRW,
		"cash_balance_usd": account.CashBalanceUSD,
		"stock_value_usd":  account.StockValueUSD,
		"total_assets_usd": account.TotalAssetsUSD,
	}).Error
}
