package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order types
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order statuses. Transitions are monotonic:
// PENDING -> {REJECTED | PARTIALLY_FILLED} -> {FILLED | CANCELLED}.
// PARTIALLY_FILLED also marks "submitted, fill unconfirmed" right after
// dispatch, before the first reconciliation.
const (
	OrderStatusPending         = "PENDING"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
)

// Currencies
const (
	CurrencyKRW  = "KRW"
	CurrencyUSD  = "USD"
	CurrencyUSDT = "USDT"
)

// Broker is a venue identity: a securities broker or a crypto exchange.
// Code is the dispatch key for adapter resolution.
type Broker struct {
	gorm.Model       `json:"-"`
	Code             string `gorm:"uniqueIndex" json:"code"`
	Name             string `json:"name"`
	Country          string `json:"country"`
	IsCryptoExchange bool   `json:"is_crypto_exchange"`
}

// Symbol is a tradable instrument keyed by ticker.
type Symbol struct {
	gorm.Model `json:"-"`
	Ticker     string `gorm:"uniqueIndex" json:"ticker"`
	Name       string `json:"name"`
	Currency   string `json:"currency"`
	BrokerID   uint   `json:"broker_id"`
	IsCrypto   bool   `json:"is_crypto"`
	IsDelisted bool   `json:"is_delisted"`
}

// Account binds a user to one broker with credentials, trading policy and
// cached multi-currency balances. The token fields are mutable cache state
// refreshed lazily by the OAuth adapter; they are never authoritative.
type Account struct {
	gorm.Model      `json:"-"`
	UserID          uint   `gorm:"index" json:"user_id"`
	BrokerID        uint   `json:"broker_id"`
	Broker          Broker `json:"broker"`
	AccountNumber   string `json:"account_number"`
	AccountPassword string `json:"-"`
	APIKey          string `json:"-"`
	APISecret       string `json:"-"`

	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenIssuedAt  *time.Time `json:"token_issued_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	CashBalanceKRW float64 `json:"cash_balance_krw"`
	StockValueKRW  float64 `json:"stock_value_krw"`
	TotalAssetsKRW float64 `json:"total_assets_krw"`
	CashBalanceUSD float64 `json:"cash_balance_usd"`
	StockValueUSD  float64 `json:"stock_value_usd"`
	TotalAssetsUSD float64 `json:"total_assets_usd"`
	ProfitRate     float64 `json:"profit_rate"`

	InvestmentLimit *float64 `json:"investment_limit,omitempty"`
	BuyEnabled      bool     `gorm:"default:true" json:"buy_enabled"`
	SellEnabled     bool     `gorm:"default:true" json:"sell_enabled"`
}

// Order is one order request and its lifecycle. Created PENDING by the
// order-entry API; mutated only by the dispatcher and the reconciler.
type Order struct {
	gorm.Model         `json:"-"`
	AccountID          uint       `gorm:"index" json:"account_id"`
	Account            Account    `json:"-"`
	SymbolID           uint       `gorm:"index" json:"symbol_id"`
	Symbol             Symbol     `json:"symbol"`
	Side               string     `json:"side"`       // BUY or SELL
	OrderType          string     `json:"order_type"` // MARKET or LIMIT
	Quantity           float64    `json:"quantity"`
	Price              *float64   `json:"price,omitempty"` // required for LIMIT
	Status             string     `gorm:"index;default:PENDING" json:"status"`
	FilledQuantity     float64    `json:"filled_quantity"`
	AverageFilledPrice *float64   `json:"average_filled_price,omitempty"`
	ExternalOrderID    string     `json:"external_order_id"`
	RejectReason       string     `json:"reject_reason,omitempty"`
	DispatchedAt       *time.Time `json:"dispatched_at,omitempty"`
	FilledAt           *time.Time `json:"filled_at,omitempty"`
}

// IsTerminal reports whether the order reached a state that must never be
// overwritten by a later pass.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Holding is a per-account per-symbol position. The derived fields
// (TotalValue, ProfitLoss, ProfitRate) are recomputed on every save via
// Recompute; callers never set them directly.
type Holding struct {
	gorm.Model   `json:"-"`
	AccountID    uint    `gorm:"uniqueIndex:idx_holdings_account_symbol" json:"account_id"`
	SymbolID     uint    `gorm:"uniqueIndex:idx_holdings_account_symbol" json:"symbol_id"`
	Symbol       Symbol  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	CurrentPrice float64 `json:"current_price"`
	TotalValue   float64 `json:"total_value"`
	ProfitLoss   float64 `json:"profit_loss"`
	ProfitRate   float64 `json:"profit_rate"`
}

// Recompute rebuilds the derived valuation fields from quantity and prices.
// A zero current price falls back to the average purchase price, and a zero
// quantity forces the profit fields to zero.
func (h *Holding) Recompute() {
	h.TotalValue = 0
	if h.Quantity > 0 {
		switch {
		case h.CurrentPrice > 0:
			h.TotalValue = h.Quantity * h.CurrentPrice
		case h.AveragePrice > 0:
			h.TotalValue = h.Quantity * h.AveragePrice
		}
	}

	if h.Quantity > 0 && h.AveragePrice > 0 {
		cost := h.Quantity * h.AveragePrice
		value := cost
		if h.CurrentPrice > 0 {
			value = h.Quantity * h.CurrentPrice
		}
		h.ProfitLoss = value - cost
		if cost > 0 {
			h.ProfitRate = (value - cost) / cost * 100
		} else {
			h.ProfitRate = 0
		}
	} else {
		h.ProfitLoss = 0
		h.ProfitRate = 0
	}
}

// DailyRealizedProfit aggregates realized profit per (account, date).
// Rows are idempotently upserted; re-running a day overwrites in place.
type DailyRealizedProfit struct {
	gorm.Model         `json:"-"`
	AccountID          uint      `gorm:"uniqueIndex:idx_daily_profits_account_date" json:"account_id"`
	Date               time.Time `gorm:"uniqueIndex:idx_daily_profits_account_date" json:"date"`
	RealizedProfit     float64   `json:"realized_profit"`
	RealizedProfitRate float64   `json:"realized_profit_rate"`
	TotalBuyAmount     float64   `json:"total_buy_amount"`
	TotalSellAmount    float64   `json:"total_sell_amount"`
}
