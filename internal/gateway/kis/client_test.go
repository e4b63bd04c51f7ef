package kis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer serves the token endpoint plus one handler for everything
// else, so each test only scripts the trading API response.
func newTestServer(t *testing.T, tokenIssues *atomic.Int64, apiHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		if tokenIssues != nil {
			tokenIssues.Add(1)
		}
		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client_credentials", req.GrantType)
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "test-token",
			TokenType:   "Bearer",
			ExpiresIn:   86_400,
		})
	})
	mux.HandleFunc("POST /oauth2/Approval", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(approvalResponse{ApprovalKey: "ws-approval-key"})
	})
	mux.HandleFunc("/", apiHandler)
	return httptest.NewServer(mux)
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:          baseURL,
		AppKey:           "app-key",
		AppSecret:        "app-secret",
		AccountNo:        "12345678",
		AccountProductCd: "01",
	}, nil, testLogger())
}

func TestGetPrice(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uapi/domestic-stock/v1/quotations/inquire-price", r.URL.Path)
		assert.Equal(t, trPrice, r.Header.Get("tr_id"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("authorization"))
		assert.Equal(t, "J", r.URL.Query().Get("fid_cond_mrkt_div_code"))
		assert.Equal(t, "005930", r.URL.Query().Get("fid_input_iscd"))
		io.WriteString(w, `{"rt_cd":"0","output":{"stck_prpr":"71500"}}`)
	})
	defer srv.Close()

	quote, err := newTestClient(srv.URL).GetPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", quote.Symbol)
	assert.Equal(t, int64(71_500), quote.Price)
}

func TestGetPriceAPIError(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"rt_cd":"1","msg_cd":"EGW00123","msg1":"invalid symbol"}`)
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPrice(context.Background(), "999999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid symbol")
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	var issues atomic.Int64
	srv := newTestServer(t, &issues, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"rt_cd":"0","output":{"stck_prpr":"100"}}`)
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()
	_, err := c.GetPrice(ctx, "005930")
	require.NoError(t, err)
	_, err = c.GetPrice(ctx, "005930")
	require.NoError(t, err)

	assert.Equal(t, int64(1), issues.Load(), "day token must be reused")
}

func TestTokenReissuedAfterUnauthorized(t *testing.T) {
	var issues atomic.Int64
	var calls atomic.Int64
	srv := newTestServer(t, &issues, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"rt_cd":"0","output":{"stck_prpr":"100"}}`)
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	_, err := c.GetPrice(ctx, "005930")
	require.Error(t, err)

	_, err = c.GetPrice(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(2), issues.Load(), "401 must invalidate the cached token")
}

func TestPlaceOrderBuy(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uapi/domestic-stock/v1/trading/order-cash", r.URL.Path)
		assert.Equal(t, trBuyCash, r.Header.Get("tr_id"))

		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "12345678", req.AccountNo)
		assert.Equal(t, "005930", req.Symbol)
		assert.Equal(t, ordDivisionLimit, req.OrderDivision)
		assert.Equal(t, "10", req.Quantity)
		assert.Equal(t, "71500", req.Price)

		io.WriteString(w, `{"rt_cd":"0","output":{"KRX_FWDG_ORD_ORGNO":"06010","ODNO":"0000117057","ORD_TMD":"121052"}}`)
	})
	defer srv.Close()

	res, err := newTestClient(srv.URL).PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		Symbol:   "005930",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Price:    71_500,
		Kind:     domain.OrderKindLimit,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0000117057", res.BrokerOrderID)
}

func TestPlaceOrderMarketZeroesPrice(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ordDivisionMarket, req.OrderDivision)
		assert.Equal(t, "0", req.Price)
		io.WriteString(w, `{"rt_cd":"0","output":{"KRX_FWDG_ORD_ORGNO":"06010","ODNO":"0000117058"}}`)
	})
	defer srv.Close()

	res, err := newTestClient(srv.URL).PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		Symbol:   "005930",
		Side:     domain.OrderSideSell,
		Quantity: 5,
		Price:    71_500, // ignored for market orders
		Kind:     domain.OrderKindMarket,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPlaceOrderBrokerRejection(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"rt_cd":"1","msg_cd":"APBK0013","msg1":"주문가능금액을 초과했습니다"}`)
	})
	defer srv.Close()

	res, err := newTestClient(srv.URL).PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		Symbol:   "005930",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Price:    71_500,
		Kind:     domain.OrderKindLimit,
	})
	require.NoError(t, err, "broker rejection is a result, not an error")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "초과")
}

func TestCancelOrderEchoesExchangeOrgNo(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/uapi/domestic-stock/v1/trading/order-cash":
			io.WriteString(w, `{"rt_cd":"0","output":{"KRX_FWDG_ORD_ORGNO":"06010","ODNO":"0000117059"}}`)
		case "/uapi/domestic-stock/v1/trading/order-rvsecncl":
			var req cancelRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "06010", req.ExchangeOrgNo)
			assert.Equal(t, "0000117059", req.OriginalOrderNo)
			assert.Equal(t, "02", req.CancelDivision)
			assert.Equal(t, "Y", req.QtyAllOrdered)
			io.WriteString(w, `{"rt_cd":"0","output":{}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	res, err := c.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Symbol:   "005930",
		Side:     domain.OrderSideBuy,
		Quantity: 10,
		Price:    71_500,
		Kind:     domain.OrderKindLimit,
	})
	require.NoError(t, err)
	require.NoError(t, c.CancelOrder(ctx, res.BrokerOrderID))
}

func TestGetOrderStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		row      string
		expected domain.BrokerOrderStatus
	}{
		{
			name: "filled",
			row:  `{"odno":"0001","ord_qty":"10","tot_ccld_qty":"10","rmn_qty":"0","avg_prvs":"71500","cncl_yn":"N"}`,
			expected: domain.BrokerOrderStatus{
				Status: domain.OrderStatusFilled, FilledQuantity: 10, RemainingQuantity: 0, AveragePrice: 71_500,
			},
		},
		{
			name: "partial",
			row:  `{"odno":"0001","ord_qty":"10","tot_ccld_qty":"4","rmn_qty":"6","avg_prvs":"71400","cncl_yn":"N"}`,
			expected: domain.BrokerOrderStatus{
				Status: domain.OrderStatusPartial, FilledQuantity: 4, RemainingQuantity: 6, AveragePrice: 71_400,
			},
		},
		{
			name: "cancelled",
			row:  `{"odno":"0001","ord_qty":"10","tot_ccld_qty":"0","rmn_qty":"10","avg_prvs":"0","cncl_yn":"Y"}`,
			expected: domain.BrokerOrderStatus{
				Status: domain.OrderStatusCancelled, FilledQuantity: 0, RemainingQuantity: 10, AveragePrice: 0,
			},
		},
		{
			name: "pending",
			row:  `{"odno":"0001","ord_qty":"10","tot_ccld_qty":"0","rmn_qty":"10","avg_prvs":"0","cncl_yn":"N"}`,
			expected: domain.BrokerOrderStatus{
				Status: domain.OrderStatusPending, FilledQuantity: 0, RemainingQuantity: 10, AveragePrice: 0,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"rt_cd":"0","output1":[`+tt.row+`]}`)
			})
			defer srv.Close()

			status, err := newTestClient(srv.URL).GetOrderStatus(context.Background(), "0001")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestGetOrderStatusNotFound(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"rt_cd":"0","output1":[]}`)
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetOrderStatus(context.Background(), "0001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetAccountBalanceAndHoldings(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, trBalance, r.Header.Get("tr_id"))
		io.WriteString(w, `{"rt_cd":"0",
			"output1":[
				{"pdno":"005930","prdt_name":"삼성전자","hldg_qty":"10","pchs_avg_pric":"71500.00"},
				{"pdno":"000660","prdt_name":"SK하이닉스","hldg_qty":"0","pchs_avg_pric":"0"}
			],
			"output2":[{"prvs_rcdl_excc_amt":"1500000","dnca_tot_amt":"2000000"}]}`)
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	balance, err := c.GetAccountBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), balance.AvailableCash)

	holdings, err := c.GetHoldings(ctx)
	require.NoError(t, err)
	// Zero-quantity rows are dropped.
	assert.Equal(t, map[string]int64{"005930": 10}, holdings)
}

func TestPaperEnvironmentUsesVirtualTrIDs(t *testing.T) {
	c := NewClient(Config{Paper: true}, nil, testLogger())
	assert.Equal(t, trBuyPaper, c.buyTrID())
	assert.Equal(t, trSellPaper, c.sellTrID())
	assert.Equal(t, trCancelPaper, c.cancelTrID())

	c = NewClient(Config{}, nil, testLogger())
	assert.Equal(t, trBuyCash, c.buyTrID())
	assert.Equal(t, trSellCash, c.sellTrID())
	assert.Equal(t, trCancel, c.cancelTrID())
}

func TestParseWon(t *testing.T) {
	v, err := parseWon("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = parseWon("71500")
	require.NoError(t, err)
	assert.Equal(t, int64(71_500), v)

	_, err = parseWon("71500.00")
	assert.Error(t, err)
}
