package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/as950118/auto-trade/internal/types"
)

// Simulator is an in-process venue used by the simulation binary and tests.
// Orders are accepted immediately and fill asynchronously: the first status
// query after the fill delay reports the terminal state.
type Simulator struct {
	account *types.Account

	MinLatency      time.Duration
	MaxLatency      time.Duration
	LiquidityFactor float64 // 0-1, fraction of quantity available at the touch
	SuccessRate     float64 // 0-1, probability an order is accepted
	FillDelay       time.Duration

	mu     sync.Mutex
	orders map[string]*simulatedOrder
}

type simulatedOrder struct {
	side       string
	quantity   float64
	price      float64
	acceptedAt time.Time
}

var _ Client = (*Simulator)(nil)

func NewSimulator(account *types.Account) *Simulator {
	return &Simulator{
		account:         account,
		MinLatency:      5 * time.Millisecond,
		MaxLatency:      30 * time.Millisecond,
		LiquidityFactor: 0.9,
		SuccessRate:     0.95,
		FillDelay:       50 * time.Millisecond,
		orders:          make(map[string]*simulatedOrder),
	}
}

func (s *Simulator) latency() time.Duration {
	spread := s.MaxLatency - s.MinLatency
	if spread <= 0 {
		return s.MinLatency
	}
	return s.MinLatency + time.Duration(rand.Int63n(int64(spread)))
}

func (s *Simulator) PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderAck, error) {
	logger := log.With().
		Uint("order_id", order.ID).
		Str("side", order.Side).
		Float64("quantity", order.Quantity).
		Logger()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.latency()):
	}

	if rand.Float64() > s.SuccessRate {
		logger.Warn().Float64("success_rate", s.SuccessRate).Msg("simulated order rejected")
		return nil, &VenueError{Venue: "SIM", Code: "SIM_REJECT", Message: "order rejected by simulated venue"}
	}

	price := 100.0
	if order.Price != nil {
		price = *order.Price
	}
	// Random variance of +-2% around the reference price.
	executedPrice := price * (1 + (rand.Float64()*0.04 - 0.02))

	quantity := order.Quantity
	if rand.Float64() > s.LiquidityFactor {
		quantity = order.Quantity * s.LiquidityFactor
	}

	externalID := uuid.NewString()
	s.mu.Lock()
	s.orders[externalID] = &simulatedOrder{
		side:       order.Side,
		quantity:   quantity,
		price:      executedPrice,
		acceptedAt: time.Now(),
	}
	s.mu.Unlock()

	logger.Info().
		Str("external_order_id", externalID).
		Float64("executed_price", executedPrice).
		Float64("executed_quantity", quantity).
		Msg("simulated order accepted")

	return &types.OrderAck{ExternalOrderID: externalID}, nil
}

func (s *Simulator) GetOrderStatus(ctx context.Context, order *types.Order) (*types.OrderStatusData, error) {
	if order.ExternalOrderID == "" {
		return &types.OrderStatusData{State: types.OrderStateUnknown}, nil
	}

	s.mu.Lock()
	sim, ok := s.orders[order.ExternalOrderID]
	s.mu.Unlock()
	if !ok {
		return nil, &VenueError{Venue: "SIM", Code: "SIM_NOT_FOUND", Message: "unknown order id"}
	}

	if time.Since(sim.acceptedAt) < s.FillDelay {
		return &types.OrderStatusData{
			State:           types.OrderStateOpen,
			ExternalOrderID: order.ExternalOrderID,
		}, nil
	}

	return &types.OrderStatusData{
		State:           types.OrderStateDone,
		ExecutedVolume:  sim.quantity,
		AveragePrice:    sim.price,
		ExternalOrderID: order.ExternalOrderID,
	}, nil
}

// GetAccountInfo derives a snapshot from filled simulated orders so the
// holdings synchronizer has something to reconcile against.
func (s *Simulator) GetAccountInfo(ctx context.Context) (*types.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := &types.AccountSnapshot{
		CashBalanceKRW: s.account.CashBalanceKRW,
	}

	// Net filled quantity per side; the simulator tracks a single notional
	// instrument so positions collapse into one line.
	var netQuantity, weightedCost float64
	for _, sim := range s.orders {
		if time.Since(sim.acceptedAt) < s.FillDelay {
			continue
		}
		if sim.side == types.OrderSideBuy {
			netQuantity += sim.quantity
			weightedCost += sim.quantity * sim.price
		} else {
			netQuantity -= sim.quantity
		}
	}

	if netQuantity > 0 {
		averagePrice := weightedCost / netQuantity
		snapshot.Holdings = append(snapshot.Holdings, types.HoldingLine{
			Ticker:       "SIM-ASSET",
			Name:         "Simulated Asset",
			Quantity:     netQuantity,
			CurrentPrice: averagePrice,
			AveragePrice: averagePrice,
			TotalValue:   netQuantity * averagePrice,
			Currency:     types.CurrencyKRW,
		})
		snapshot.StockValueKRW = netQuantity * averagePrice
	}

	snapshot.TotalAssetsKRW = snapshot.CashBalanceKRW + snapshot.StockValueKRW
	return snapshot, nil
}
