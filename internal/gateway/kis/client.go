// Package kis is the Korea Investment & Securities OpenAPI gateway. It owns
// OAuth token refresh, per-request tr_id headers, broker rate limiting, and
// the string-to-won conversions the API requires.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// Transaction IDs per endpoint. The paper-trading environment uses the V*
// variants of the order IDs.
const (
	trPrice       = "FHKST01010100"
	trBuyCash     = "TTTC0802U"
	trSellCash    = "TTTC0801U"
	trBuyPaper    = "VTTC0802U"
	trSellPaper   = "VTTC0801U"
	trCancel      = "TTTC0803U"
	trCancelPaper = "VTTC0803U"
	trBalance     = "TTTC8434R"
	trDailyFills  = "TTTC8001R"
)

const (
	ordDivisionLimit  = "00"
	ordDivisionMarket = "01"
)

// Config holds the KIS API credentials and environment selection.
type Config struct {
	BaseURL          string
	AppKey           string
	AppSecret        string
	AccountNo        string // 8-digit account number
	AccountProductCd string // 2-digit product code, usually "01"
	// Paper selects the paper-trading environment and its tr_ids.
	Paper bool
	// RateLimit and RateWindow bound broker calls; KIS enforces 20 req/s.
	RateLimit  int
	RateWindow time.Duration
}

// Client implements domain.MarketGateway against the KIS REST API.
type Client struct {
	cfg        Config
	tokens     *tokenManager
	limiter    domain.RateLimiter // optional
	httpClient *http.Client
	logger     *slog.Logger

	// orgMu guards the order number to exchange-branch mapping that cancel
	// requests need to echo back.
	orgMu  sync.Mutex
	orgNos map[string]string
}

// NewClient creates a KIS gateway client. limiter may be nil.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 15
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	log := logger.With(slog.String("component", "kis_gateway"))
	return &Client{
		cfg:        cfg,
		tokens:     newTokenManager(cfg.BaseURL, cfg.AppKey, cfg.AppSecret, httpClient, log),
		limiter:    limiter,
		httpClient: httpClient,
		logger:     log,
		orgNos:     make(map[string]string),
	}
}

// ApprovalKey exposes the websocket approval key for the price streamer.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	return c.tokens.ApprovalKey(ctx)
}

// GetPrice returns the current quote for one symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", "J")
	params.Set("fid_input_iscd", symbol)
	path := "/uapi/domestic-stock/v1/quotations/inquire-price?" + params.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, path, trPrice, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("kis: get price %s: %w", symbol, err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("kis: decode price: %w", err)
	}
	if err := resp.check(); err != nil {
		return domain.Quote{}, fmt.Errorf("kis: get price %s: %w", symbol, err)
	}

	price, err := parseWon(resp.Output.CurrentPrice)
	if err != nil || price <= 0 {
		return domain.Quote{}, fmt.Errorf("kis: bad price %q for %s", resp.Output.CurrentPrice, symbol)
	}
	return domain.Quote{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}, nil
}

// PlaceOrder submits a cash order. A broker rejection comes back as an
// unsuccessful result with the broker's message, not as an error.
func (c *Client) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlaceOrderResult, error) {
	division := ordDivisionLimit
	price := req.Price
	if req.Kind == domain.OrderKindMarket {
		division = ordDivisionMarket
		price = 0
	}

	trID := c.buyTrID()
	if req.Side == domain.OrderSideSell {
		trID = c.sellTrID()
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", trID, orderRequest{
		AccountNo:        c.cfg.AccountNo,
		AccountProductCd: c.cfg.AccountProductCd,
		Symbol:           req.Symbol,
		OrderDivision:    division,
		Quantity:         strconv.FormatInt(req.Quantity, 10),
		Price:            strconv.FormatInt(price, 10),
	})
	if err != nil {
		return domain.PlaceOrderResult{}, fmt.Errorf("kis: place order %s: %w", req.Symbol, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlaceOrderResult{}, fmt.Errorf("kis: decode order response: %w", err)
	}
	if resp.ReturnCode != "0" {
		return domain.PlaceOrderResult{Success: false, Error: resp.Message}, nil
	}

	c.orgMu.Lock()
	c.orgNos[resp.Output.OrderNo] = resp.Output.ExchangeOrgNo
	c.orgMu.Unlock()

	c.logger.InfoContext(ctx, "kis: order accepted",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("broker_order_id", resp.Output.OrderNo),
	)
	return domain.PlaceOrderResult{
		Success:       true,
		BrokerOrderID: resp.Output.OrderNo,
	}, nil
}

// CancelOrder cancels the remaining quantity of an order.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	c.orgMu.Lock()
	orgNo := c.orgNos[brokerOrderID]
	c.orgMu.Unlock()

	body, err := c.doRequest(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-rvsecncl", c.cancelTrID(), cancelRequest{
		AccountNo:        c.cfg.AccountNo,
		AccountProductCd: c.cfg.AccountProductCd,
		ExchangeOrgNo:    orgNo,
		OriginalOrderNo:  brokerOrderID,
		OrderDivision:    ordDivisionLimit,
		CancelDivision:   "02",
		Quantity:         "0",
		Price:            "0",
		QtyAllOrdered:    "Y",
	})
	if err != nil {
		return fmt.Errorf("kis: cancel order %s: %w", brokerOrderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("kis: decode cancel response: %w", err)
	}
	if err := resp.check(); err != nil {
		return fmt.Errorf("kis: cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

// GetOrderStatus looks the order up in today's fill inquiry.
func (c *Client) GetOrderStatus(ctx context.Context, brokerOrderID string) (domain.BrokerOrderStatus, error) {
	today := time.Now().Format("20060102")
	params := url.Values{}
	params.Set("CANO", c.cfg.AccountNo)
	params.Set("ACNT_PRDT_CD", c.cfg.AccountProductCd)
	params.Set("INQR_STRT_DT", today)
	params.Set("INQR_END_DT", today)
	params.Set("ODNO", brokerOrderID)
	params.Set("SLL_BUY_DVSN_CD", "00")
	params.Set("INQR_DVSN", "00")
	params.Set("CCLD_DVSN", "00")
	path := "/uapi/domestic-stock/v1/trading/inquire-daily-ccld?" + params.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, path, trDailyFills, nil)
	if err != nil {
		return domain.BrokerOrderStatus{}, fmt.Errorf("kis: order status %s: %w", brokerOrderID, err)
	}

	var resp orderStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.BrokerOrderStatus{}, fmt.Errorf("kis: decode order status: %w", err)
	}
	if err := resp.check(); err != nil {
		return domain.BrokerOrderStatus{}, fmt.Errorf("kis: order status %s: %w", brokerOrderID, err)
	}

	for _, o := range resp.Orders {
		if o.OrderNo != brokerOrderID {
			continue
		}
		filled, _ := parseWon(o.FilledQuantity)
		remaining, _ := parseWon(o.RemainQuantity)
		avg, _ := parseWon(o.AveragePrice)

		status := domain.OrderStatusPending
		switch {
		case o.CancelledYN == "Y":
			status = domain.OrderStatusCancelled
		case remaining == 0 && filled > 0:
			status = domain.OrderStatusFilled
		case filled > 0:
			status = domain.OrderStatusPartial
		}
		return domain.BrokerOrderStatus{
			Status:            status,
			FilledQuantity:    filled,
			RemainingQuantity: remaining,
			AveragePrice:      avg,
		}, nil
	}
	return domain.BrokerOrderStatus{}, domain.ErrNotFound
}

// GetAccountBalance returns the cash available for new orders.
func (c *Client) GetAccountBalance(ctx context.Context) (domain.AccountBalance, error) {
	resp, err := c.fetchBalance(ctx)
	if err != nil {
		return domain.AccountBalance{}, err
	}
	if len(resp.Summary) == 0 {
		return domain.AccountBalance{}, fmt.Errorf("kis: balance response missing summary")
	}
	cash, err := parseWon(resp.Summary[0].AvailableCash)
	if err != nil {
		return domain.AccountBalance{}, fmt.Errorf("kis: bad available cash %q", resp.Summary[0].AvailableCash)
	}
	return domain.AccountBalance{AvailableCash: cash}, nil
}

// GetHoldings returns the broker's view of held quantities by symbol, used
// for reconciliation against the ledger.
func (c *Client) GetHoldings(ctx context.Context) (map[string]int64, error) {
	resp, err := c.fetchBalance(ctx)
	if err != nil {
		return nil, err
	}
	holdings := make(map[string]int64, len(resp.Holdings))
	for _, h := range resp.Holdings {
		qty, err := parseWon(h.Quantity)
		if err != nil || qty <= 0 {
			continue
		}
		holdings[h.Symbol] = qty
	}
	return holdings, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) fetchBalance(ctx context.Context) (balanceResponse, error) {
	params := url.Values{}
	params.Set("CANO", c.cfg.AccountNo)
	params.Set("ACNT_PRDT_CD", c.cfg.AccountProductCd)
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")
	path := "/uapi/domestic-stock/v1/trading/inquire-balance?" + params.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, path, trBalance, nil)
	if err != nil {
		return balanceResponse{}, fmt.Errorf("kis: get balance: %w", err)
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return balanceResponse{}, fmt.Errorf("kis: decode balance: %w", err)
	}
	if err := resp.check(); err != nil {
		return balanceResponse{}, fmt.Errorf("kis: get balance: %w", err)
	}
	return resp, nil
}

// doRequest builds, authenticates, sends, and reads one API request. The
// rate limiter gate runs before the token lookup so throttled calls spend
// nothing.
func (c *Client) doRequest(ctx context.Context, method, path, trID string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, "kis_api", c.cfg.RateLimit, c.cfg.RateWindow)
		if err != nil {
			c.logger.WarnContext(ctx, "kis: rate limiter unavailable, proceeding",
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token expired server-side; the next call re-issues.
		c.tokens.Invalidate()
		return nil, fmt.Errorf("unauthorized: %s", string(respBody))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (c *Client) buyTrID() string {
	if c.cfg.Paper {
		return trBuyPaper
	}
	return trBuyCash
}

func (c *Client) sellTrID() string {
	if c.cfg.Paper {
		return trSellPaper
	}
	return trSellCash
}

func (c *Client) cancelTrID() string {
	if c.cfg.Paper {
		return trCancelPaper
	}
	return trCancel
}

// check maps a non-zero rt_cd to an error.
func (e envelope) check() error {
	if e.ReturnCode == "0" {
		return nil
	}
	return fmt.Errorf("api error %s: %s", e.MessageCd, e.Message)
}

// parseWon converts the API's string numerics to int64. Empty means zero.
func parseWon(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
