package broker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/as950118/auto-trade/internal/types"
)

func newTestKISClient(t *testing.T, serverURL string, account *types.Account) *KISClient {
	t.Helper()
	client, err := NewKISClient(Config{
		KISBaseURL: serverURL,
		Timeout:    2 * time.Second,
	}, account, nil)
	require.NoError(t, err)
	return client
}

func kisTestAccount(id uint) *types.Account {
	account := &types.Account{
		APIKey:        "app-key",
		APISecret:     "app-secret",
		AccountNumber: "1234567801",
	}
	account.ID = id
	return account
}

func TestKISAccountNumberSplit(t *testing.T) {
	client := newTestKISClient(t, "http://127.0.0.1:1", kisTestAccount(1))
	cano, productCode := client.cano()
	assert.Equal(t, "12345678", cano)
	assert.Equal(t, "01", productCode)

	short := kisTestAccount(2)
	short.AccountNumber = "12345678"
	client = newTestKISClient(t, "http://127.0.0.1:1", short)
	cano, productCode = client.cano()
	assert.Equal(t, "12345678", cano)
	assert.Equal(t, "", productCode)
}

func TestKISTokenCaching(t *testing.T) {
	var tokenCalls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/oauth2/tokenP" {
			atomic.AddInt64(&tokenCalls, 1)
			w.Write([]byte(`{"access_token":"issued-token"}`))
			return
		}
		assert.Equal(t, "Bearer issued-token", r.Header.Get("authorization"))
		w.Write([]byte(`{"rt_cd":"0","output":{"ODNO":"0000001"}}`))
	}))
	defer server.Close()

	client := newTestKISClient(t, server.URL, kisTestAccount(3))
	order := &types.Order{
		Side:      types.OrderSideBuy,
		OrderType: types.OrderTypeMarket,
		Quantity:  10,
		Symbol:    types.Symbol{Ticker: "005930"},
	}

	_, err := client.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	_, err = client.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	// The second call reuses the cached token.
	assert.Equal(t, int64(1), atomic.LoadInt64(&tokenCalls))
	require.NotNil(t, client.account.TokenExpiresAt)
	assert.True(t, client.account.TokenExpiresAt.After(time.Now().Add(22*time.Hour)))
}

func TestKISTokenReuseFromAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			t.Fatal("token endpoint must not be called while the cached token is valid")
		}
		assert.Equal(t, "Bearer cached-token", r.Header.Get("authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rt_cd":"0","output":{"ODNO":"0000002"}}`))
	}))
	defer server.Close()

	account := kisTestAccount(4)
	expires := time.Now().Add(10 * time.Hour)
	account.AccessToken = "cached-token"
	account.TokenExpiresAt = &expires

	client := newTestKISClient(t, server.URL, account)
	ack, err := client.PlaceOrder(context.Background(), &types.Order{
		Side:      types.OrderSideSell,
		OrderType: types.OrderTypeMarket,
		Quantity:  5,
		Symbol:    types.Symbol{Ticker: "005930"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0000002", ack.ExternalOrderID)
}

func TestKISPlaceOrderTransactionIDs(t *testing.T) {
	var gotTrID, gotOrdDvsn string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/oauth2/tokenP" {
			w.Write([]byte(`{"access_token":"t"}`))
			return
		}
		gotTrID = r.Header.Get("tr_id")
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"ORD_DVSN":"01"`) {
			gotOrdDvsn = "01"
		} else {
			gotOrdDvsn = "00"
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"ODNO":"1"}}`))
	}))
	defer server.Close()

	client := newTestKISClient(t, server.URL, kisTestAccount(5))

	_, err := client.PlaceOrder(context.Background(), &types.Order{
		Side:      types.OrderSideBuy,
		OrderType: types.OrderTypeMarket,
		Quantity:  1,
		Symbol:    types.Symbol{Ticker: "005930"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TTTC0802U", gotTrID)
	assert.Equal(t, "01", gotOrdDvsn)

	price := 70000.0
	_, err = client.PlaceOrder(context.Background(), &types.Order{
		Side:      types.OrderSideSell,
		OrderType: types.OrderTypeLimit,
		Quantity:  1,
		Price:     &price,
		Symbol:    types.Symbol{Ticker: "005930"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TTTC0801U", gotTrID)
	assert.Equal(t, "00", gotOrdDvsn)
}

func TestKISPlaceOrderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/oauth2/tokenP" {
			w.Write([]byte(`{"access_token":"t"}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"1","msg_cd":"APBK0013","msg1":"주문가능금액을 초과했습니다"}`))
	}))
	defer server.Close()

	client := newTestKISClient(t, server.URL, kisTestAccount(6))
	ack, err := client.PlaceOrder(context.Background(), &types.Order{
		Side:      types.OrderSideBuy,
		OrderType: types.OrderTypeMarket,
		Quantity:  100,
		Symbol:    types.Symbol{Ticker: "005930"},
	})
	assert.Nil(t, ack)
	require.Error(t, err)

	var venueErr *VenueError
	require.ErrorAs(t, err, &venueErr)
	assert.Equal(t, "APBK0013", venueErr.Code)
	assert.Contains(t, venueErr.Message, "주문가능금액")
}

func TestKISOrderStatusIndeterminate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/oauth2/tokenP" {
			w.Write([]byte(`{"access_token":"t"}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"0","output":{}}`))
	}))
	defer server.Close()

	client := newTestKISClient(t, server.URL, kisTestAccount(7))
	status, err := client.GetOrderStatus(context.Background(), &types.Order{
		ExternalOrderID: "0000001",
		Symbol:          types.Symbol{Ticker: "005930"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStateUnknown, status.State)
}

func TestKISAccountSnapshotWithOverseas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/oauth2/tokenP":
			w.Write([]byte(`{"access_token":"t"}`))
		case strings.HasPrefix(r.URL.Path, "/uapi/domestic-stock"):
			w.Write([]byte(`{
				"rt_cd":"0",
				"output1":[{"pdno":"005930","prdt_name":"Samsung Electronics","hldg_qty":"10","prpr":"70000","pchs_avg_pric":"65000"}],
				"output2":[{"ord_psbl_cash":"1000000"}]
			}`))
		case strings.HasPrefix(r.URL.Path, "/uapi/overseas-stock"):
			exchange := r.URL.Query().Get("OVRS_EXCG_CD")
			if exchange != "NASD" {
				// Every other exchange reports no holdings.
				w.Write([]byte(`{"rt_cd":"1","msg_cd":"EGW00123","msg1":"no data"}`))
				return
			}
			w.Write([]byte(`{
				"rt_cd":"0",
				"output1":[{"ovrs_pdno":"AAPL","ovrs_item_name":"Apple Inc","ovrs_cblc_qty":"5","ovrs_stck_prpr":"200","pchs_avg_pric":"180","xch_rate":"1300"}]
			}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestKISClient(t, server.URL, kisTestAccount(8))
	snapshot, err := client.GetAccountInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1000000.0, snapshot.CashBalanceKRW)
	require.Len(t, snapshot.Holdings, 2)

	domestic := snapshot.Holdings[0]
	assert.Equal(t, "005930", domestic.Ticker)
	assert.Equal(t, 10.0, domestic.Quantity)
	assert.Equal(t, types.CurrencyKRW, domestic.Currency)
	assert.InDelta(t, 700000.0, domestic.TotalValue, 1e-6)

	overseas := snapshot.Holdings[1]
	assert.Equal(t, "AAPL", overseas.Ticker)
	assert.Equal(t, types.CurrencyUSD, overseas.Currency)
	assert.InDelta(t, 1000.0, overseas.TotalValue, 1e-6) // 5 * 200 USD
	assert.Equal(t, 1300.0, overseas.ExchangeRate)

	// Domestic value plus overseas value converted at the reported rate.
	assert.InDelta(t, 700000.0+1300000.0, snapshot.StockValueKRW, 1e-6)
	assert.InDelta(t, 1000.0, snapshot.StockValueUSD, 1e-6)
}

func TestNumFieldCandidateOrder(t *testing.T) {
	row := map[string]interface{}{
		"ovrs_stck_prpr": "0",
		"now_pric2":      "42.5",
		"prpr":           "99",
	}
	// Zero values are skipped; the first positive candidate wins.
	assert.Equal(t, 42.5, numField(row, 0, kisPriceFields...))

	assert.Equal(t, 1.0, numField(map[string]interface{}{}, 1, "xch_rate"))
	assert.Equal(t, 7.0, numField(map[string]interface{}{"qty": float64(7)}, 0, "qty"))
}
