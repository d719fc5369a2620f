package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/as950118/auto-trade/internal/types"
)

// BingXClient talks to the BingX spot API. Every request is signed with an
// HMAC-SHA256 digest over the lexicographically sorted query string, which
// always includes a millisecond timestamp. The venue signals success with a
// zero "code" field; any other code is an application-level rejection.
type BingXClient struct {
	account *types.Account
	http    *resty.Client
}

var _ Client = (*BingXClient)(nil)

func NewBingXClient(cfg Config, account *types.Account) (*BingXClient, error) {
	if account.APIKey == "" || account.APISecret == "" {
		return nil, &ConfigError{Venue: "BingX", Reason: "API key and secret are required"}
	}

	return &BingXClient{
		account: account,
		http: resty.New().
			SetBaseURL(cfg.BingXBaseURL).
			SetTimeout(cfg.Timeout),
	}, nil
}

// sign computes the hex HMAC-SHA256 of the canonical (sorted, URL-encoded)
// query string.
func (c *BingXClient) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.account.APISecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

type bingxEnvelope struct {
	Code int64           `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// request issues a signed call and unwraps the code/msg/data envelope into
// out (which may be nil when the payload is not needed).
func (c *BingXClient) request(ctx context.Context, method, endpoint string, params url.Values, body interface{}, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", c.sign(withoutSignature(params)))

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-BX-APIKEY", c.account.APIKey)

	var env bingxEnvelope
	req.SetResult(&env).SetError(&env)

	target := endpoint + "?" + params.Encode()
	var resp *resty.Response
	var err error
	switch method {
	case "POST":
		resp, err = req.SetBody(body).Post(target)
	default:
		resp, err = req.Get(target)
	}
	if err != nil {
		return fmt.Errorf("bingx %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return &VenueError{
			Venue:      "BingX",
			HTTPStatus: resp.StatusCode(),
			Code:       strconv.FormatInt(env.Code, 10),
			Message:    env.Msg,
		}
	}
	if env.Code != 0 {
		return &VenueError{
			Venue:   "BingX",
			Code:    strconv.FormatInt(env.Code, 10),
			Message: env.Msg,
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("bingx decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

// withoutSignature returns a copy of params with the signature itself
// excluded, since the digest never covers its own field.
func withoutSignature(params url.Values) url.Values {
	signed := url.Values{}
	for key, values := range params {
		if key == "signature" {
			continue
		}
		for _, v := range values {
			signed.Add(key, v)
		}
	}
	return signed
}

// normalizeBingXTicker appends the USDT quote when the ticker carries no
// pair separator.
func normalizeBingXTicker(ticker string) string {
	if strings.Contains(ticker, "-") {
		return ticker
	}
	return ticker + "-USDT"
}

type bingxOrder struct {
	OrderID     json.Number `json:"orderId"`
	Status      string      `json:"status"`
	ExecutedQty string      `json:"executedQty"`
	Price       string      `json:"price"`
}

func (c *BingXClient) PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderAck, error) {
	body := map[string]string{
		"symbol":   normalizeBingXTicker(order.Symbol.Ticker),
		"side":     order.Side,
		"type":     order.OrderType,
		"quantity": formatFloat(order.Quantity),
	}
	if order.OrderType == types.OrderTypeLimit {
		if order.Price == nil {
			return nil, &ConfigError{Venue: "BingX", Reason: "limit order requires a price"}
		}
		body["price"] = formatFloat(*order.Price)
	}

	var placed bingxOrder
	if err := c.request(ctx, "POST", "/openApi/spot/v1/trade/order", nil, body, &placed); err != nil {
		return nil, err
	}

	return &types.OrderAck{ExternalOrderID: placed.OrderID.String()}, nil
}

func (c *BingXClient) GetOrderStatus(ctx context.Context, order *types.Order) (*types.OrderStatusData, error) {
	params := url.Values{}
	params.Set("symbol", normalizeBingXTicker(order.Symbol.Ticker))
	if order.ExternalOrderID != "" {
		params.Set("orderId", order.ExternalOrderID)
	}

	var current bingxOrder
	if err := c.request(ctx, "GET", "/openApi/spot/v1/trade/query", params, nil, &current); err != nil {
		return nil, err
	}

	status := &types.OrderStatusData{
		ExecutedVolume:  parseFloat(current.ExecutedQty),
		AveragePrice:    parseFloat(current.Price),
		ExternalOrderID: current.OrderID.String(),
	}
	switch current.Status {
	case "FILLED":
		status.State = types.OrderStateDone
	case "CANCELED", "CANCELLED":
		status.State = types.OrderStateCancel
	case "NEW", "PENDING", "PARTIALLY_FILLED":
		status.State = types.OrderStateOpen
	default:
		status.State = types.OrderStateUnknown
	}

	return status, nil
}

type bingxBalances struct {
	Balances []struct {
		Asset       string `json:"asset"`
		DisplayName string `json:"disPlayName"`
		Free        string `json:"free"`
		Locked      string `json:"locked"`
	} `json:"balances"`
}

func (c *BingXClient) GetAccountInfo(ctx context.Context) (*types.AccountSnapshot, error) {
	var account bingxBalances
	if err := c.request(ctx, "GET", "/openApi/spot/v1/account/balance", nil, nil, &account); err != nil {
		return nil, err
	}

	snapshot := &types.AccountSnapshot{}
	for _, balance := range account.Balances {
		total := parseFloat(balance.Free) + parseFloat(balance.Locked)
		if total <= 0 {
			continue
		}

		if balance.Asset == types.CurrencyUSDT || balance.Asset == types.CurrencyUSD {
			snapshot.CashBalanceUSD += total
			continue
		}

		name := balance.DisplayName
		if name == "" {
			name = balance.Asset
		}
		// The balance endpoint reports no quote; prices are filled in by
		// the holdings synchronizer's fallback rules.
		snapshot.Holdings = append(snapshot.Holdings, types.HoldingLine{
			Ticker:   balance.Asset + "-USDT",
			Name:     name,
			Quantity: total,
			Currency: types.CurrencyUSDT,
		})
	}

	snapshot.TotalAssetsUSD = snapshot.CashBalanceUSD + snapshot.StockValueUSD
	return snapshot, nil
}
