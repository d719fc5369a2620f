package profit

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/types"
)

// Service computes realized profit from filled orders using FIFO lot
// matching and maintains the per-day aggregates.
type Service struct {
	db *Database
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: NewDatabase(db)}
}

// DailySummary is one account's realized result for a single day.
type DailySummary struct {
	RealizedProfit     float64 `json:"realized_profit"`
	RealizedProfitRate float64 `json:"realized_profit_rate"`
	TotalBuyAmount     float64 `json:"total_buy_amount"`
	TotalSellAmount    float64 `json:"total_sell_amount"`
}

// fillKnown reports whether the venue told us both how much executed and
// at what average price. Orders without both carry no usable P&L data.
func fillKnown(order *types.Order) bool {
	return order.FilledQuantity > 0 &&
		order.AverageFilledPrice != nil && *order.AverageFilledPrice > 0
}

// lotPrice is the cost basis of a buy lot, falling back to the requested
// price when the venue reported no average.
func lotPrice(order *types.Order) float64 {
	if order.AverageFilledPrice != nil && *order.AverageFilledPrice > 0 {
		return *order.AverageFilledPrice
	}
	if order.Price != nil {
		return *order.Price
	}
	return 0
}

func lotQuantity(order *types.Order) float64 {
	if order.FilledQuantity > 0 {
		return order.FilledQuantity
	}
	return order.Quantity
}

// RealizedProfitForOrder computes one sell's realized profit by matching
// its quantity against the account's filled buys in fill order. Each sell
// matches against the full buy history independently; lots are not consumed
// across sells. A sell whose executed quantity or average price is unknown
// contributes nothing.
func (s *Service) RealizedProfitForOrder(sell *types.Order) (float64, error) {
	if sell.Side != types.OrderSideSell || sell.Status != types.OrderStatusFilled || sell.FilledAt == nil {
		return 0, nil
	}
	if !fillKnown(sell) {
		return 0, nil
	}

	buys, err := s.db.GetFilledBuysBefore(sell.AccountID, sell.SymbolID, *sell.FilledAt)
	if err != nil {
		return 0, fmt.Errorf("load buy history: %w", err)
	}

	sellQuantity := sell.FilledQuantity
	proceeds := sellQuantity * *sell.AverageFilledPrice

	remaining := sellQuantity
	cost := 0.0
	for i := range buys {
		if remaining <= 0 {
			break
		}
		matched := lotQuantity(&buys[i])
		if matched > remaining {
			matched = remaining
		}
		cost += matched * lotPrice(&buys[i])
		remaining -= matched
	}

	// Unmatched quantity has no cost basis and counts as pure proceeds.
	return proceeds - cost, nil
}

// DailyProfit computes one account's realized result for the day containing
// date. The day runs from local midnight to the next.
func (s *Service) DailyProfit(accountID uint, date time.Time) (*DailySummary, error) {
	dayStart := midnight(date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	sells, err := s.db.GetFilledSellsBetween(accountID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load sells for account %d: %w", accountID, err)
	}

	summary := &DailySummary{}
	for i := range sells {
		sell := &sells[i]
		if !fillKnown(sell) {
			continue
		}
		profit, err := s.RealizedProfitForOrder(sell)
		if err != nil {
			return nil, err
		}
		summary.RealizedProfit += profit
		summary.TotalSellAmount += sell.FilledQuantity * *sell.AverageFilledPrice
	}

	if summary.TotalSellAmount > 0 {
		summary.RealizedProfitRate = summary.RealizedProfit / summary.TotalSellAmount * 100
	}
	return summary, nil
}

// UpdateDailyRealizedProfit recomputes and stores one account's aggregate
// for the day containing date. Safe to call repeatedly; the row is
// overwritten, never accumulated.
func (s *Service) UpdateDailyRealizedProfit(accountID uint, date time.Time) error {
	summary, err := s.DailyProfit(accountID, date)
	if err != nil {
		return err
	}

	record := &types.DailyRealizedProfit{
		AccountID:          accountID,
		Date:               midnight(date),
		RealizedProfit:     summary.RealizedProfit,
		RealizedProfitRate: summary.RealizedProfitRate,
		TotalBuyAmount:     summary.TotalBuyAmount,
		TotalSellAmount:    summary.TotalSellAmount,
	}
	if err := s.db.UpsertDailyProfit(record); err != nil {
		return fmt.Errorf("store daily profit for account %d: %w", accountID, err)
	}

	log.Debug().
		Uint("account_id", accountID).
		Time("date", record.Date).
		Float64("realized_profit", record.RealizedProfit).
		Msg("daily realized profit updated")
	return nil
}

// UpdateAllAccountsDailyProfit recomputes the aggregate for every account.
// Returns the number of accounts updated, or -1 when the account list could
// not be fetched.
func (s *Service) UpdateAllAccountsDailyProfit(date time.Time) int {
	ids, err := s.db.GetAccountIDs()
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts for profit update")
		return -1
	}

	updated := 0
	for _, id := range ids {
		if err := s.UpdateDailyRealizedProfit(id, date); err != nil {
			log.Error().Err(err).Uint("account_id", id).Msg("daily profit update failed")
			continue
		}
		updated++
	}
	return updated
}

// UserDailyProfit computes the day's realized result live across one
// user's accounts. Fills not yet rolled up by the stored aggregates still
// count here.
func (s *Service) UserDailyProfit(userID uint, date time.Time) (*DailySummary, error) {
	ids, err := s.db.GetAccountIDsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %d: %w", userID, err)
	}

	summary := &DailySummary{}
	for _, id := range ids {
		daily, err := s.DailyProfit(id, date)
		if err != nil {
			return nil, err
		}
		summary.RealizedProfit += daily.RealizedProfit
		summary.TotalBuyAmount += daily.TotalBuyAmount
		summary.TotalSellAmount += daily.TotalSellAmount
	}

	if summary.TotalSellAmount > 0 {
		summary.RealizedProfitRate = summary.RealizedProfit / summary.TotalSellAmount * 100
	}
	return summary, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
