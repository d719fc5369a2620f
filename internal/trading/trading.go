package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/as950118/auto-trade/internal/broker"
	"github.com/as950118/auto-trade/internal/types"
)

// Resolver turns an account into its venue adapter.
type Resolver interface {
	Resolve(account *types.Account) (broker.Client, error)
}

// ProfitTrigger recomputes realized profit for one account and day. Fired
// when a sell order reaches FILLED.
type ProfitTrigger interface {
	UpdateDailyRealizedProfit(accountID uint, date time.Time) error
}

// Service dispatches pending orders to their venues and reconciles
// dispatched orders against venue-reported fills.
type Service struct {
	db       *Database
	registry Resolver
	profits  ProfitTrigger
	timeout  time.Duration
}

func NewService(db *gorm.DB, registry Resolver, profits ProfitTrigger) *Service {
	return &Service{
		db:       NewDatabase(db),
		registry: registry,
		profits:  profits,
		timeout:  10 * time.Second,
	}
}

// ProcessOrders runs one dispatch pass over all undispatched pending
// orders. Returns the number of orders processed, or -1 when the pending
// set could not be fetched at all.
func (s *Service) ProcessOrders() int {
	orders, err := s.db.GetPendingOrders()
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch pending orders")
		return -1
	}

	processed := 0
	for i := range orders {
		order := &orders[i]
		if err := s.processOrder(order); err != nil {
			log.Error().Err(err).Uint("order_id", order.ID).Msg("order dispatch failed")
		}
		processed++
	}

	if processed > 0 {
		log.Info().Int("count", processed).Msg("dispatch pass completed")
	}
	return processed
}

// reject moves an order to REJECTED with a reason. Terminal, never retried.
func (s *Service) reject(order *types.Order, reason string) error {
	order.Status = types.OrderStatusRejected
	order.RejectReason = reason
	log.Warn().
		Uint("order_id", order.ID).
		Uint("account_id", order.AccountID).
		Str("reason", reason).
		Msg("order rejected")
	return s.db.UpdateOrder(order)
}

// checkPolicy validates an order against its account's trading policy.
// Returns a non-empty rejection reason when the order must not be sent.
// Policy failures are decided locally, before any venue traffic.
func checkPolicy(order *types.Order) string {
	account := &order.Account

	if order.Side == types.OrderSideBuy && !account.BuyEnabled {
		return "buying is disabled for this account"
	}
	if order.Side == types.OrderSideSell && !account.SellEnabled {
		return "selling is disabled for this account"
	}
	if order.OrderType == types.OrderTypeLimit && order.Price == nil {
		return "limit order requires a price"
	}

	if order.Side == types.OrderSideBuy && account.InvestmentLimit != nil {
		notional := 0.0
		if order.Price != nil {
			notional = order.Quantity * *order.Price
		}
		if notional > *account.InvestmentLimit {
			return fmt.Sprintf("order notional %.2f exceeds investment limit %.2f",
				notional, *account.InvestmentLimit)
		}
	}

	return ""
}

func (s *Service) processOrder(order *types.Order) error {
	if reason := checkPolicy(order); reason != "" {
		return s.reject(order, reason)
	}

	claimed, err := s.db.ClaimOrder(order)
	if err != nil {
		return fmt.Errorf("claim order %d: %w", order.ID, err)
	}
	if !claimed {
		// Another pass took it first.
		log.Debug().Uint("order_id", order.ID).Msg("order already claimed, skipping")
		return nil
	}

	client, err := s.registry.Resolve(&order.Account)
	if err != nil {
		return s.reject(order, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ack, err := client.PlaceOrder(ctx, order)
	if err != nil {
		return s.reject(order, err.Error())
	}

	order.ExternalOrderID = ack.ExternalOrderID
	order.Status = types.OrderStatusPartiallyFilled
	if err := s.db.UpdateOrder(order); err != nil {
		return fmt.Errorf("record dispatch of order %d: %w", order.ID, err)
	}

	log.Info().
		Uint("order_id", order.ID).
		Str("external_order_id", order.ExternalOrderID).
		Str("side", order.Side).
		Msg("order dispatched")

	// First reconciliation right away: fast venues fill immediately.
	return s.ReconcileOrder(order, client)
}

// ReconcileOrder refreshes one dispatched order from its venue. A nil
// client resolves the adapter from the order's account. Venue errors leave
// the order untouched for the next pass.
func (s *Service) ReconcileOrder(order *types.Order, client broker.Client) error {
	if order.IsTerminal() {
		return nil
	}

	if client == nil {
		var err error
		client, err = s.registry.Resolve(&order.Account)
		if err != nil {
			log.Error().Err(err).Uint("order_id", order.ID).Msg("cannot resolve adapter for reconciliation")
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	status, err := client.GetOrderStatus(ctx, order)
	if err != nil {
		log.Warn().Err(err).Uint("order_id", order.ID).Msg("order status query failed, will retry")
		return nil
	}

	previousStatus := order.Status
	switch status.State {
	case types.OrderStateDone:
		order.Status = types.OrderStatusFilled
		order.FilledQuantity = status.ExecutedVolume
		if status.AveragePrice > 0 {
			price := status.AveragePrice
			order.AverageFilledPrice = &price
		}
		now := time.Now()
		order.FilledAt = &now
	case types.OrderStateCancel:
		// Earlier partial fills stay on the order.
		order.Status = types.OrderStatusCancelled
		if status.ExecutedVolume > 0 {
			order.FilledQuantity = status.ExecutedVolume
		}
	case types.OrderStateOpen:
		if status.ExecutedVolume > 0 {
			order.FilledQuantity = status.ExecutedVolume
			if status.AveragePrice > 0 {
				price := status.AveragePrice
				order.AverageFilledPrice = &price
			}
		}
	default:
		// Indeterminate venue state, nothing to record.
		return nil
	}

	if err := s.db.UpdateOrder(order); err != nil {
		return fmt.Errorf("update order %d after reconciliation: %w", order.ID, err)
	}

	if order.Status != previousStatus {
		log.Info().
			Uint("order_id", order.ID).
			Str("from", previousStatus).
			Str("to", order.Status).
			Float64("filled_quantity", order.FilledQuantity).
			Msg("order state updated")
	}

	// Realized profit is recomputed once, on the transition into FILLED.
	if order.Side == types.OrderSideSell &&
		order.Status == types.OrderStatusFilled &&
		previousStatus != types.OrderStatusFilled &&
		s.profits != nil {
		if err := s.profits.UpdateDailyRealizedProfit(order.AccountID, time.Now()); err != nil {
			log.Error().Err(err).Uint("account_id", order.AccountID).Msg("realized profit update failed")
		}
	}

	return nil
}

// ReconcileOpenOrders runs one reconciliation pass over every dispatched,
// unconfirmed order. Returns the number of orders examined, or -1 when the
// open set could not be fetched.
func (s *Service) ReconcileOpenOrders() int {
	orders, err := s.db.GetOpenOrders()
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch open orders")
		return -1
	}

	for i := range orders {
		order := &orders[i]
		if err := s.ReconcileOrder(order, nil); err != nil {
			log.Error().Err(err).Uint("order_id", order.ID).Msg("order reconciliation failed")
		}
	}

	return len(orders)
}
