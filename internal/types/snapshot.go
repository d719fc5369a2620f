package types

// Normalized order states reported by broker adapters. Every venue payload
// is reduced to one of these before it reaches the reconciler.
const (
	OrderStateDone    = "done"    // fully executed at the venue
	OrderStateCancel  = "cancel"  // cancelled at the venue
	OrderStateOpen    = "open"    // live, possibly partially executed
	OrderStateUnknown = "unknown" // venue gave no usable fill information
)

// OrderAck is the venue's acknowledgement of a placed order.
type OrderAck struct {
	ExternalOrderID string `json:"external_order_id"`
}

// OrderStatusData is the normalized fill representation of one order.
type OrderStatusData struct {
	State           string  `json:"state"`
	ExecutedVolume  float64 `json:"executed_volume"`
	AveragePrice    float64 `json:"average_price"`
	ExternalOrderID string  `json:"external_order_id"`
}

// HoldingLine is one reported position inside an account snapshot.
// Overseas lines are valued in their native currency and carry the FX rate
// the venue reported alongside.
type HoldingLine struct {
	Ticker       string  `json:"ticker"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	CurrentPrice float64 `json:"current_price"`
	AveragePrice float64 `json:"average_price"`
	TotalValue   float64 `json:"total_value"`
	Currency     string  `json:"currency"`
	Exchange     string  `json:"exchange,omitempty"`
	ExchangeRate float64 `json:"exchange_rate,omitempty"`
}

// AccountSnapshot is a venue account snapshot: cash plus per-position
// holdings, reported separately in KRW and USD.
type AccountSnapshot struct {
	CashBalanceKRW float64       `json:"cash_balance_krw"`
	StockValueKRW  float64       `json:"stock_value_krw"`
	TotalAssetsKRW float64       `json:"total_assets_krw"`
	CashBalanceUSD float64       `json:"cash_balance_usd"`
	StockValueUSD  float64       `json:"stock_value_usd"`
	TotalAssetsUSD float64       `json:"total_assets_usd"`
	Holdings       []HoldingLine `json:"holdings"`
}
