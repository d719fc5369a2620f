// Package broker contains the per-venue adapters that translate each
// broker's wire protocol into one uniform capability interface, plus the
// registry that resolves an account's configured venue to an adapter.
package broker

import (
	"context"
	"time"

	"github.com/as950118/auto-trade/internal/types"
)

// Client abstracts one venue for one account: place an order, query its
// fill status, and fetch an account snapshot. Implementations own every
// venue-specific concern (auth, signing, ticker formats, response codes).
type Client interface {
	// PlaceOrder submits the order and returns the venue's order id.
	PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderAck, error)

	// GetOrderStatus queries the venue and returns a normalized fill view.
	// Venues that expose no terminal fill code report OrderStateUnknown.
	GetOrderStatus(ctx context.Context, order *types.Order) (*types.OrderStatusData, error)

	// GetAccountInfo fetches cash balances and per-position holdings.
	GetAccountInfo(ctx context.Context) (*types.AccountSnapshot, error)
}

// Config holds venue endpoints and the shared outbound-call timeout.
// Zero values fall back to production defaults via withDefaults.
type Config struct {
	UpbitBaseURL string
	BingXBaseURL string
	KISBaseURL   string
	Timeout      time.Duration
}

const defaultTimeout = 10 * time.Second

func (c Config) withDefaults() Config {
	if c.UpbitBaseURL == "" {
		c.UpbitBaseURL = "https://api.upbit.com"
	}
	if c.BingXBaseURL == "" {
		c.BingXBaseURL = "https://open-api.bingx.com"
	}
	if c.KISBaseURL == "" {
		c.KISBaseURL = "https://openapi.koreainvestment.com:9443"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
