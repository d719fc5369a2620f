package broker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"resty.dev/v3"

	"github.com/as950118/auto-trade/internal/types"
)

// Korea Investment & Securities transaction ids. They differ by direction
// and by domestic vs. overseas market.
const (
	kisTrOrderBuy        = "TTTC0802U"
	kisTrOrderSell       = "TTTC0801U"
	kisTrOrderStatus     = "TTTC8908R"
	kisTrBalance         = "TTTC8434R"
	kisTrOverseasBalance = "TTTS3012R"

	// The venue advertises 24h token lifetime; refresh an hour early.
	kisTokenLifetime = 23 * time.Hour

	// Response code meaning "no holdings on this exchange".
	kisCodeNoHoldings = "EGW00123"
)

// Exchanges queried for overseas balances. The venue exposes no single
// "all exchanges" endpoint, so the snapshot fans out across this list.
var kisOverseasExchanges = []string{"NASD", "NYSE", "AMEX", "TSEI", "HASE"}

// Ordered candidate fields for an overseas position's live price. Field
// names vary between response revisions; the first positive value wins.
var kisPriceFields = []string{
	"ovrs_stck_prpr",
	"ovrs_stck_prpr1",
	"now_pric2",
	"prpr",
	"ovrs_stck_prpr_cncl",
	"ovrs_stck_prpr2",
	"base_pric",
}

// tokenLocks serializes token refresh per account so two concurrent
// requests cannot both re-issue a token.
var tokenLocks sync.Map // account ID -> *sync.Mutex

// KISClient talks to the Korea Investment & Securities Open API. Auth is an
// OAuth2 client-credentials exchange; the issued bearer token is cached on
// the account record and reused until expiry.
type KISClient struct {
	account *types.Account
	store   *Database
	http    *resty.Client
}

var _ Client = (*KISClient)(nil)

func NewKISClient(cfg Config, account *types.Account, store *Database) (*KISClient, error) {
	if account.APIKey == "" || account.APISecret == "" {
		return nil, &ConfigError{Venue: "KIS", Reason: "API key and secret are required"}
	}
	if account.AccountNumber == "" {
		return nil, &ConfigError{Venue: "KIS", Reason: "account number is required"}
	}

	return &KISClient{
		account: account,
		store:   store,
		http: resty.New().
			SetBaseURL(cfg.KISBaseURL).
			SetTimeout(cfg.Timeout),
	}, nil
}

// cano returns the 8-digit account prefix and product-code suffix.
func (c *KISClient) cano() (string, string) {
	number := c.account.AccountNumber
	if len(number) <= 8 {
		return number, ""
	}
	return number[:8], number[8:]
}

type kisTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// accessToken returns a valid bearer token, re-issuing one when the cached
// token is missing or expired. Refresh is a per-account critical section.
func (c *KISClient) accessToken(ctx context.Context) (string, error) {
	muValue, _ := tokenLocks.LoadOrStore(c.account.ID, &sync.Mutex{})
	mu := muValue.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if c.account.AccessToken != "" &&
		c.account.TokenExpiresAt != nil &&
		time.Now().Before(*c.account.TokenExpiresAt) {
		return c.account.AccessToken, nil
	}

	var token kisTokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     c.account.APIKey,
			"appsecret":  c.account.APISecret,
		}).
		SetResult(&token).
		Post("/oauth2/tokenP")
	if err != nil {
		return "", fmt.Errorf("kis token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() || token.AccessToken == "" {
		return "", &VenueError{
			Venue:      "KIS",
			HTTPStatus: resp.StatusCode(),
			Message:    "access token issuance failed",
		}
	}

	now := time.Now()
	expires := now.Add(kisTokenLifetime)
	c.account.AccessToken = token.AccessToken
	c.account.TokenIssuedAt = &now
	c.account.TokenExpiresAt = &expires
	if c.store != nil {
		if err := c.store.UpdateAccountToken(c.account); err != nil {
			log.Error().Err(err).Uint("account_id", c.account.ID).Msg("failed to persist kis token")
		}
	}

	return token.AccessToken, nil
}

// headers builds the per-request header set for one transaction id.
func (c *KISClient) headers(token, trID string) map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"authorization": "Bearer " + token,
		"appkey":        c.account.APIKey,
		"appsecret":     c.account.APISecret,
		"tr_id":         trID,
	}
}

type kisOrderResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg1   string `json:"msg1"`
	MsgCd  string `json:"msg_cd"`
	Output struct {
		ODNO string `json:"ODNO"`
	} `json:"output"`
}

func (c *KISClient) PlaceOrder(ctx context.Context, order *types.Order) (*types.OrderAck, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	ordDvsn := "00" // limit
	if order.OrderType == types.OrderTypeMarket {
		ordDvsn = "01"
	}
	trID := kisTrOrderSell
	if order.Side == types.OrderSideBuy {
		trID = kisTrOrderBuy
	}

	unitPrice := "0"
	if order.Price != nil {
		unitPrice = strconv.FormatInt(int64(*order.Price), 10)
	}

	cano, productCode := c.cano()
	var result kisOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers(token, trID)).
		SetBody(map[string]string{
			"CANO":         cano,
			"ACNT_PRDT_CD": productCode,
			"PDNO":         order.Symbol.Ticker,
			"ORD_DVSN":     ordDvsn,
			"ORD_QTY":      strconv.FormatInt(int64(order.Quantity), 10),
			"ORD_UNPR":     unitPrice,
		}).
		SetResult(&result).
		Post("/uapi/domestic-stock/v1/trading/order-cash")
	if err != nil {
		return nil, fmt.Errorf("kis place order: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, &VenueError{Venue: "KIS", HTTPStatus: resp.StatusCode(), Message: resp.String()}
	}
	if result.RtCd != "0" {
		return nil, &VenueError{Venue: "KIS", Code: result.MsgCd, Message: result.Msg1}
	}

	return &types.OrderAck{ExternalOrderID: result.Output.ODNO}, nil
}

// GetOrderStatus queries the venue but reports an indeterminate state: the
// inquiry endpoint exposes no terminal fill code, so reconciliation leaves
// these orders unchanged until the venue-side state is observable.
func (c *KISClient) GetOrderStatus(ctx context.Context, order *types.Order) (*types.OrderStatusData, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	cano, productCode := c.cano()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", productCode)
	params.Set("PDNO", order.Symbol.Ticker)
	params.Set("ORD_DVSN", "00")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers(token, kisTrOrderStatus)).
		Get("/uapi/domestic-stock/v1/trading/inquire-psbl-order?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("kis order status: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, &VenueError{Venue: "KIS", HTTPStatus: resp.StatusCode(), Message: resp.String()}
	}

	return &types.OrderStatusData{State: types.OrderStateUnknown}, nil
}

type kisBalanceResponse struct {
	RtCd    string                   `json:"rt_cd"`
	Msg1    string                   `json:"msg1"`
	MsgCd   string                   `json:"msg_cd"`
	Output1 []map[string]interface{} `json:"output1"`
	Output2 []map[string]interface{} `json:"output2"`
}

func (c *KISClient) GetAccountInfo(ctx context.Context) (*types.AccountSnapshot, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	cano, productCode := c.cano()
	params := url.Values{}
	params.Set("CANO", cano)
	params.Set("ACNT_PRDT_CD", productCode)
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "01")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	var result kisBalanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.headers(token, kisTrBalance)).
		SetResult(&result).
		Get("/uapi/domestic-stock/v1/trading/inquire-balance?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("kis balance: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, &VenueError{Venue: "KIS", HTTPStatus: resp.StatusCode(), Message: resp.String()}
	}
	if result.RtCd != "0" {
		return nil, &VenueError{Venue: "KIS", Code: result.MsgCd, Message: result.Msg1}
	}

	snapshot := &types.AccountSnapshot{}
	if len(result.Output2) > 0 {
		snapshot.CashBalanceKRW = numField(result.Output2[0], 0, "ord_psbl_cash")
	}

	for _, position := range result.Output1 {
		quantity := numField(position, 0, "hldg_qty")
		if quantity <= 0 {
			continue
		}
		currentPrice := numField(position, 0, "prpr")
		averagePrice := numField(position, 0, "pchs_avg_pric")
		if averagePrice <= 0 {
			averagePrice = currentPrice
		}

		value := quantity * currentPrice
		snapshot.StockValueKRW += value
		snapshot.Holdings = append(snapshot.Holdings, types.HoldingLine{
			Ticker:       strField(position, "pdno"),
			Name:         strField(position, "prdt_name"),
			Quantity:     quantity,
			CurrentPrice: currentPrice,
			AveragePrice: averagePrice,
			TotalValue:   value,
			Currency:     types.CurrencyKRW,
		})
	}

	// Overseas failures must not abort the domestic snapshot.
	overseas, overseasValueKRW := c.overseasHoldings(ctx, token)
	if len(overseas) > 0 {
		snapshot.Holdings = append(snapshot.Holdings, overseas...)
		snapshot.StockValueKRW += overseasValueKRW
		for _, line := range overseas {
			snapshot.StockValueUSD += line.TotalValue
		}
	}

	snapshot.TotalAssetsKRW = snapshot.CashBalanceKRW + snapshot.StockValueKRW
	snapshot.TotalAssetsUSD = snapshot.CashBalanceUSD + snapshot.StockValueUSD
	return snapshot, nil
}

// overseasHoldings fans out across the fixed exchange list, tolerating
// per-exchange timeouts, network errors and "no holdings" responses.
// Positions are valued in USD; the KRW total uses each line's FX rate.
func (c *KISClient) overseasHoldings(ctx context.Context, token string) ([]types.HoldingLine, float64) {
	var holdings []types.HoldingLine
	var totalKRW float64

	cano, productCode := c.cano()
	for _, exchange := range kisOverseasExchanges {
		logger := log.With().Str("exchange", exchange).Uint("account_id", c.account.ID).Logger()

		params := url.Values{}
		params.Set("CANO", cano)
		params.Set("ACNT_PRDT_CD", productCode)
		params.Set("OVRS_EXCG_CD", exchange)
		params.Set("TR_CRCY_CD", types.CurrencyUSD)
		params.Set("CTX_AREA_FK200", "")
		params.Set("CTX_AREA_NK200", "")

		var result kisBalanceResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.headers(token, kisTrOverseasBalance)).
			SetResult(&result).
			Get("/uapi/overseas-stock/v1/trading/inquire-balance?" + params.Encode())
		if err != nil {
			logger.Warn().Err(err).Msg("overseas balance query failed")
			continue
		}
		resp.Body.Close()

		if resp.IsError() {
			logger.Warn().Int("status", resp.StatusCode()).Msg("overseas balance HTTP error")
			continue
		}
		if result.RtCd != "0" {
			if result.MsgCd != kisCodeNoHoldings {
				logger.Warn().Str("msg_cd", result.MsgCd).Str("msg", result.Msg1).Msg("overseas balance rejected")
			}
			continue
		}

		for _, position := range result.Output1 {
			quantity := numField(position, 0, "ovrs_cblc_qty")
			if quantity <= 0 {
				continue
			}

			averagePrice := numField(position, 0, "pchs_avg_pric")
			currentPrice := numField(position, 0, kisPriceFields...)
			if currentPrice <= 0 && averagePrice > 0 {
				currentPrice = averagePrice
			}
			fxRate := numField(position, 1, "xch_rate")

			var valueUSD, valueKRW float64
			if currentPrice > 0 {
				valueUSD = quantity * currentPrice
				valueKRW = valueUSD * fxRate
			}
			totalKRW += valueKRW

			ticker := strField(position, "ovrs_pdno")
			name := strField(position, "ovrs_item_name")
			if name == "" {
				name = ticker
			}
			if averagePrice <= 0 {
				averagePrice = currentPrice
			}
			holdings = append(holdings, types.HoldingLine{
				Ticker:       ticker,
				Name:         name,
				Quantity:     quantity,
				CurrentPrice: currentPrice,
				AveragePrice: averagePrice,
				TotalValue:   valueUSD,
				Currency:     types.CurrencyUSD,
				Exchange:     strField(position, "ovrs_excg_cd"),
				ExchangeRate: fxRate,
			})
		}
	}

	return holdings, totalKRW
}

// numField returns the first of the named fields that parses to a positive
// number, or fallback when none does. Venue payloads mix strings and
// numbers for numeric fields.
func numField(row map[string]interface{}, fallback float64, keys ...string) float64 {
	for _, key := range keys {
		raw, ok := row[key]
		if !ok {
			continue
		}
		var value float64
		switch v := raw.(type) {
		case string:
			value = parseFloat(v)
		case float64:
			value = v
		case int:
			value = float64(v)
		}
		if value > 0 {
			return value
		}
	}
	return fallback
}

func strField(row map[string]interface{}, key string) string {
	if raw, ok := row[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}
