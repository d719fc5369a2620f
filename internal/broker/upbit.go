package broker

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"

	"github.com/as950118/auto-trade/internal/types"
)

// UpbitClient talks to the Upbit spot exchange. Requests carry a JWT signed
// with the account secret; parameterized requests additionally carry a
// SHA512 hash of the canonical query string inside the token claims.
type UpbitClient struct {
	account *types.Account
	http    *resty.Client
}

var _ Client = (*UpbitClient)(nil)

func NewUpbitClient(cfg Config, account *types.Account) (*UpbitClient, error) {
	if account.APIKey == "" || account.APISecret == "" {
		return nil, &ConfigError{Venue: "Upbit", Reason: "API key and secret are required"}
	}

	return &UpbitClient{
		account: account,
		http: resty.New().
			SetBaseURL(cfg.UpbitBaseURL).
			SetTimeout(cfg.Timeout),
	}, nil
}

// normalizeUpbitTicker converts a bare ticker into Upbit's
// quote-currency-prefixed pair format, defaulting to the KRW market.
func normalizeUpbitTicker(ticker string) string {
	for _, quote := range []string{"KRW-", "BTC-", "USDT-"} {
		if strings.HasPrefix(ticker, quote) {
			return ticker
		}
	}
	return "KRW-" + ticker
}

// authToken builds the request JWT. params must match the request's query
// string (GET) or form-encoded body parameters (POST) exactly.
func (c *UpbitClient) authToken(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.account.APIKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		hash := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(hash[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.account.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign upbit request token: %w", err)
	}
	return signed, nil
}

type upbitOrder struct {
	UUID           string `json:"uuid"`
	State          string `json:"state"`
	ExecutedVolume string `json:"executed_volume"`
	AvgPrice       string `json:"avg_price"`
}

type upbitError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *UpbitClient) PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderAck, error) {
	market := normalizeUpbitTicker(order.Symbol.Ticker)

	params := url.Values{}
	params.Set("market", market)
	if order.Side == types.OrderSideBuy {
		params.Set("side", "bid")
	} else {
		params.Set("side", "ask")
	}

	switch order.OrderType {
	case types.OrderTypeMarket:
		if order.Side == types.OrderSideBuy {
			// Market buys are priced by total spend.
			params.Set("ord_type", "price")
			params.Set("price", formatFloat(order.Quantity))
		} else {
			params.Set("ord_type", "market")
			params.Set("volume", formatFloat(order.Quantity))
		}
	default:
		if order.Price == nil {
			return nil, &ConfigError{Venue: "Upbit", Reason: "limit order requires a price"}
		}
		params.Set("ord_type", "limit")
		params.Set("volume", formatFloat(order.Quantity))
		params.Set("price", formatFloat(*order.Price))
	}

	token, err := c.authToken(params)
	if err != nil {
		return nil, err
	}

	body := make(map[string]string, len(params))
	for key := range params {
		body[key] = params.Get(key)
	}

	var result upbitOrder
	var apiErr upbitError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("upbit place order: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, &VenueError{
			Venue:      "Upbit",
			HTTPStatus: resp.StatusCode(),
			Code:       apiErr.Error.Name,
			Message:    apiErr.Error.Message,
		}
	}

	return &types.OrderAck{ExternalOrderID: result.UUID}, nil
}

func (c *UpbitClient) GetOrderStatus(ctx context.Context, order *types.Order) (*types.OrderStatusData, error) {
	if order.ExternalOrderID == "" {
		// Nothing to look up yet; the next dispatch pass records the id.
		return &types.OrderStatusData{State: types.OrderStateUnknown}, nil
	}

	params := url.Values{}
	params.Set("uuid", order.ExternalOrderID)

	token, err := c.authToken(params)
	if err != nil {
		return nil, err
	}

	var result upbitOrder
	var apiErr upbitError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&result).
		SetError(&apiErr).
		Get("/v1/order?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("upbit order status: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, &VenueError{
			Venue:      "Upbit",
			HTTPStatus: resp.StatusCode(),
			Code:       apiErr.Error.Name,
			Message:    apiErr.Error.Message,
		}
	}

	status := &types.OrderStatusData{
		ExecutedVolume:  parseFloat(result.ExecutedVolume),
		AveragePrice:    parseFloat(result.AvgPrice),
		ExternalOrderID: result.UUID,
	}
	switch result.State {
	case "done":
		status.State = types.OrderStateDone
	case "cancel":
		status.State = types.OrderStateCancel
	case "wait", "watch":
		status.State = types.OrderStateOpen
	default:
		status.State = types.OrderStateUnknown
	}

	return status, nil
}

type upbitBalance struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Locked      string `json:"locked"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

type upbitTicker struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
}

func (c *UpbitClient) GetAccountInfo(ctx context.Context) (*types.AccountSnapshot, error) {
	token, err := c.authToken(nil)
	if err != nil {
		return nil, err
	}

	var balances []upbitBalance
	var apiErr upbitError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&balances).
		SetError(&apiErr).
		Get("/v1/accounts")
	if err != nil {
		return nil, fmt.Errorf("upbit balances: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, &VenueError{
			Venue:      "Upbit",
			HTTPStatus: resp.StatusCode(),
			Code:       apiErr.Error.Name,
			Message:    apiErr.Error.Message,
		}
	}

	snapshot := &types.AccountSnapshot{}
	for _, balance := range balances {
		if balance.Currency == types.CurrencyKRW {
			snapshot.CashBalanceKRW = parseFloat(balance.Balance)
			continue
		}

		total := parseFloat(balance.Balance) + parseFloat(balance.Locked)
		if total <= 0 {
			continue
		}

		ticker := "KRW-" + balance.Currency
		price, err := c.currentPrice(ctx, ticker)
		if err != nil || price <= 0 {
			// No KRW quote means the position cannot be valued.
			log.Debug().Err(err).Str("ticker", ticker).Msg("no upbit quote for balance, skipping")
			continue
		}

		value := total * price
		snapshot.StockValueKRW += value
		snapshot.Holdings = append(snapshot.Holdings, types.HoldingLine{
			Ticker:       ticker,
			Name:         balance.Currency,
			Quantity:     total,
			CurrentPrice: price,
			AveragePrice: parseFloat(balance.AvgBuyPrice),
			TotalValue:   value,
			Currency:     types.CurrencyKRW,
		})
	}

	snapshot.TotalAssetsKRW = snapshot.CashBalanceKRW + snapshot.StockValueKRW
	return snapshot, nil
}

// currentPrice looks up the latest trade price for one market pair.
func (c *UpbitClient) currentPrice(ctx context.Context, market string) (float64, error) {
	var tickers []upbitTicker
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&tickers).
		Get("/v1/ticker?markets=" + url.QueryEscape(market))
	if err != nil {
		return 0, fmt.Errorf("upbit ticker %s: %w", market, err)
	}
	defer resp.Body.Close()

	if resp.IsError() || len(tickers) == 0 {
		return 0, &VenueError{Venue: "Upbit", HTTPStatus: resp.StatusCode(), Message: "no quote for " + market}
	}
	return tickers[0].TradePrice, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
