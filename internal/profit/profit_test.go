package profit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/as950118/auto-trade/internal/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Account{},
		&types.Symbol{},
		&types.Order{},
		&types.DailyRealizedProfit{},
	))
	return db
}

func seedFilledOrder(t *testing.T, db *gorm.DB, accountID, symbolID uint, side string, quantity, price float64, filledAt time.Time) *types.Order {
	t.Helper()
	order := &types.Order{
		AccountID:          accountID,
		SymbolID:           symbolID,
		Side:               side,
		OrderType:          types.OrderTypeLimit,
		Quantity:           quantity,
		Price:              &price,
		Status:             types.OrderStatusFilled,
		FilledQuantity:     quantity,
		AverageFilledPrice: &price,
		FilledAt:           &filledAt,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestRealizedProfitSingleLot(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 100, base)
	sell := seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 10, 150, base.Add(2*time.Hour))

	profit, err := service.RealizedProfitForOrder(sell)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, profit, 1e-9) // 10*150 - 10*100
}

func TestRealizedProfitMultipleLots(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 5, 100, base)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 5, 120, base.Add(time.Hour))
	sell := seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 10, 150, base.Add(3*time.Hour))

	profit, err := service.RealizedProfitForOrder(sell)
	require.NoError(t, err)
	// 1500 proceeds - (5*100 + 5*120) cost
	assert.InDelta(t, 400.0, profit, 1e-9)
}

func TestRealizedProfitPartialLot(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 100, base)
	sell := seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 4, 150, base.Add(time.Hour))

	profit, err := service.RealizedProfitForOrder(sell)
	require.NoError(t, err)
	// Only 4 of the 10-unit lot are matched.
	assert.InDelta(t, 200.0, profit, 1e-9)
}

func TestRealizedProfitIgnoresLaterBuys(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 100, base)
	sell := seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 10, 150, base.Add(time.Hour))
	// Filled after the sell, must not enter its cost basis.
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 10, base.Add(2*time.Hour))

	profit, err := service.RealizedProfitForOrder(sell)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, profit, 1e-9)
}

func TestRealizedProfitOtherSymbolExcluded(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 2, types.OrderSideBuy, 10, 1, base)
	sell := seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 10, 150, base.Add(time.Hour))

	profit, err := service.RealizedProfitForOrder(sell)
	require.NoError(t, err)
	// No matching lots: the full proceeds count as profit.
	assert.InDelta(t, 1500.0, profit, 1e-9)
}

// seedSellWithoutFillData creates a FILLED sell whose venue never reported
// the executed quantity or average price.
func seedSellWithoutFillData(t *testing.T, db *gorm.DB, accountID, symbolID uint, quantity, price float64, filledAt time.Time) *types.Order {
	t.Helper()
	order := &types.Order{
		AccountID: accountID,
		SymbolID:  symbolID,
		Side:      types.OrderSideSell,
		OrderType: types.OrderTypeLimit,
		Quantity:  quantity,
		Price:     &price,
		Status:    types.OrderStatusFilled,
		FilledAt:  &filledAt,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestRealizedProfitUnknownFillDataContributesNothing(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 100, base)
	sell := seedSellWithoutFillData(t, db, 1, 1, 10, 150, base.Add(time.Hour))

	profit, err := service.RealizedProfitForOrder(sell)
	require.NoError(t, err)
	// The requested price must not stand in for the missing average.
	assert.Zero(t, profit)
}

func TestDailyProfitSkipsSellsWithoutFillData(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 100, day.Add(9*time.Hour))
	seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 10, 150, day.Add(11*time.Hour))
	seedSellWithoutFillData(t, db, 1, 1, 10, 200, day.Add(12*time.Hour))

	summary, err := service.DailyProfit(1, day)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, summary.RealizedProfit, 1e-9)
	// Only the sell with known fill data enters the turnover.
	assert.InDelta(t, 1500.0, summary.TotalSellAmount, 1e-9)
}

func TestDailyProfitAggregatesSells(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, 1, 1, types.OrderSideBuy, 10, 100, day.Add(9*time.Hour))
	seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 10, 150, day.Add(11*time.Hour))
	// A sell on the next day stays out of this day's aggregate.
	seedFilledOrder(t, db, 1, 1, types.OrderSideSell, 1, 200, day.AddDate(0, 0, 1).Add(time.Hour))

	summary, err := service.DailyProfit(1, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 500.0, summary.RealizedProfit, 1e-9)
	assert.InDelta(t, 1500.0, summary.TotalSellAmount, 1e-9)
	assert.InDelta(t, 33.3333, summary.RealizedProfitRate, 0.001)
}

func TestUpdateDailyRealizedProfitIdempotent(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	account := &types.Account{BuyEnabled: true, SellEnabled: true}
	require.NoError(t, db.Create(account).Error)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	seedFilledOrder(t, db, account.ID, 1, types.OrderSideBuy, 10, 100, day.Add(9*time.Hour))
	seedFilledOrder(t, db, account.ID, 1, types.OrderSideSell, 10, 150, day.Add(11*time.Hour))

	require.NoError(t, service.UpdateDailyRealizedProfit(account.ID, day))
	require.NoError(t, service.UpdateDailyRealizedProfit(account.ID, day))

	var count int64
	require.NoError(t, db.Model(&types.DailyRealizedProfit{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	record, err := NewDatabase(db).GetDailyProfit(account.ID, day)
	require.NoError(t, err)
	require.NotNil(t, record)
	// Re-running overwrites, never accumulates.
	assert.InDelta(t, 500.0, record.RealizedProfit, 1e-9)
}

func TestUpdateAllAccountsDailyProfit(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&types.Account{BuyEnabled: true, SellEnabled: true}).Error)
	}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	assert.Equal(t, 3, service.UpdateAllAccountsDailyProfit(day))

	var count int64
	require.NoError(t, db.Model(&types.DailyRealizedProfit{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestUserDailyProfitSumsAccounts(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	for i := 0; i < 2; i++ {
		account := &types.Account{UserID: 7, BuyEnabled: true, SellEnabled: true}
		require.NoError(t, db.Create(account).Error)
		seedFilledOrder(t, db, account.ID, 1, types.OrderSideBuy, 10, 100, day.Add(9*time.Hour))
		seedFilledOrder(t, db, account.ID, 1, types.OrderSideSell, 10, 150, day.Add(11*time.Hour))
		require.NoError(t, service.UpdateDailyRealizedProfit(account.ID, day))
	}
	// Another user's account stays out of the sum.
	other := &types.Account{UserID: 8, BuyEnabled: true, SellEnabled: true}
	require.NoError(t, db.Create(other).Error)
	seedFilledOrder(t, db, other.ID, 1, types.OrderSideBuy, 1, 1, day.Add(9*time.Hour))
	seedFilledOrder(t, db, other.ID, 1, types.OrderSideSell, 1, 100, day.Add(10*time.Hour))
	require.NoError(t, service.UpdateDailyRealizedProfit(other.ID, day))

	summary, err := service.UserDailyProfit(7, day)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, summary.RealizedProfit, 1e-9)
	assert.InDelta(t, 3000.0, summary.TotalSellAmount, 1e-9)
}

func TestUserDailyProfitCountsUnrolledFills(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	account := &types.Account{UserID: 9, BuyEnabled: true, SellEnabled: true}
	require.NoError(t, db.Create(account).Error)
	seedFilledOrder(t, db, account.ID, 1, types.OrderSideBuy, 10, 100, day.Add(9*time.Hour))
	seedFilledOrder(t, db, account.ID, 1, types.OrderSideSell, 10, 150, day.Add(11*time.Hour))

	// No stored daily row exists; the user view still sees the fills.
	summary, err := service.UserDailyProfit(9, day)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, summary.RealizedProfit, 1e-9)
	assert.InDelta(t, 1500.0, summary.TotalSellAmount, 1e-9)
}
