package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
	"invest_go/internal/infra"
)

// Client is the live REST implementation of the brokerage API.
// Every request goes through the rate limiter, the circuit breaker and the
// retry loop; only definitive responses reach the caller.
type Client struct {
	baseURL   string
	token     string
	accountID string
	classCode string

	httpClient *http.Client
	breaker    *infra.CircuitBreaker
	limiter    *infra.RateLimiter
	backoff    infra.Backoff
	retryTries int
}

// ClientConfig holds the knobs for constructing a live client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	AccountID  string
	ClassCode  string
	RetryTries int
	Backoff    infra.Backoff
	RateLimit  float64
	RateBurst  int
}

// NewClient creates a live REST brokerage client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RetryTries <= 0 {
		cfg.RetryTries = 3
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	if cfg.Backoff == (infra.Backoff{}) {
		cfg.Backoff = infra.NewBackoff(0, 0)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		accountID:  cfg.AccountID,
		classCode:  cfg.ClassCode,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    infra.NewCircuitBreaker("brokerage", 0, 0, 0),
		limiter:    infra.NewRateLimiter(cfg.RateBurst, cfg.RateLimit),
		backoff:    cfg.Backoff,
		retryTries: cfg.RetryTries,
	}
}

// httpError carries the response status for retry decisions.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("brokerage API status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	if he, ok := err.(*httpError); ok {
		return he.status >= 500 || he.status == http.StatusTooManyRequests
	}
	// Network-level failures are retryable.
	return true
}

// call performs one API request with rate limiting, breaker accounting and
// retry with exponential backoff. 2xx responses are decoded into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retryTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff.Delay(attempt - 1)):
			}
		}

		if !c.breaker.Allow() {
			return fmt.Errorf("brokerage circuit open, request dropped: %s %s", method, path)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}

		if !retryable(err) {
			c.breaker.RecordSuccess() // the remote answered, just not 2xx
			return err
		}

		c.breaker.RecordFailure()
		lastErr = err
		slog.Warn("brokerage API error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Int("tries", c.retryTries),
			slog.Any("error", err))
	}
	return fmt.Errorf("brokerage API gave up after %d tries: %w", c.retryTries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{status: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// --- instruments ---

type instrumentMatch struct {
	InstrumentID string          `json:"instrument_id"`
	Ticker       string          `json:"ticker"`
	Lot          int             `json:"lot"`
	PriceStep    decimal.Decimal `json:"price_step"`
}

// ResolveInstrument looks a ticker up within the configured class code.
// Zero or ambiguous matches yield ErrNotFound.
func (c *Client) ResolveInstrument(ctx context.Context, ticker string) (domain.InstrumentInfo, error) {
	var resp struct {
		Matches []instrumentMatch `json:"matches"`
	}
	body := map[string]string{"ticker": ticker, "class_code": c.classCode}
	if err := c.call(ctx, http.MethodPost, "/v1/instruments/by-ticker", body, &resp); err != nil {
		return domain.InstrumentInfo{}, err
	}
	if len(resp.Matches) != 1 {
		return domain.InstrumentInfo{}, fmt.Errorf("resolve %s: %d matches: %w", ticker, len(resp.Matches), ErrNotFound)
	}
	m := resp.Matches[0]
	if m.Lot < 1 || !m.PriceStep.IsPositive() {
		return domain.InstrumentInfo{}, fmt.Errorf("resolve %s: bad metadata lot=%d step=%s", ticker, m.Lot, m.PriceStep)
	}
	return domain.InstrumentInfo{
		Ticker:    ticker,
		ID:        m.InstrumentID,
		Lot:       m.Lot,
		PriceStep: m.PriceStep,
	}, nil
}

// --- account ---

func (c *Client) Cash(ctx context.Context) ([]CashBalance, error) {
	var resp struct {
		Balances []CashBalance `json:"balances"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/cash", c.accountID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

func (c *Client) Positions(ctx context.Context) ([]PositionRecord, error) {
	var resp struct {
		Securities []PositionRecord `json:"securities"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/positions", c.accountID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Securities, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var resp struct {
		Orders []struct {
			OrderID      string          `json:"order_id"`
			InstrumentID string          `json:"instrument_id"`
			Side         string          `json:"side"`
			Lots         int             `json:"lots"`
			Price        decimal.Decimal `json:"price"`
			PlacedAt     time.Time       `json:"placed_at"`
		} `json:"orders"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/orders", c.accountID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	orders := make([]OpenOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, OpenOrder{
			OrderID:      o.OrderID,
			InstrumentID: o.InstrumentID,
			Side:         domain.Side(o.Side),
			Lots:         o.Lots,
			Price:        o.Price,
			PlacedAt:     o.PlacedAt,
		})
	}
	return orders, nil
}

func (c *Client) Operations(ctx context.Context, from, to time.Time) ([]Operation, error) {
	var resp struct {
		Operations []Operation `json:"operations"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/operations?from=%s&to=%s",
		c.accountID,
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)))
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Operations, nil
}

// --- orders ---

// SubmitLimitOrder posts a limit order tagged with the client's idempotency
// key. The brokerage deduplicates on client_order_id, so a retried request
// can never create a second order.
func (c *Client) SubmitLimitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	var resp struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	body := map[string]any{
		"instrument_id":   req.InstrumentID,
		"side":            string(req.Side),
		"lots":            req.Lots,
		"price":           req.Price,
		"client_order_id": req.ClientOrderID,
	}
	path := fmt.Sprintf("/v1/accounts/%s/orders", c.accountID)
	if err := c.call(ctx, http.MethodPost, path, body, &resp); err != nil {
		if he, ok := err.(*httpError); ok && he.status == http.StatusUnprocessableEntity {
			return "", fmt.Errorf("%s: %w", he.body, ErrRejected)
		}
		return "", err
	}
	return resp.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/v1/accounts/%s/orders/%s", c.accountID, orderID)
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// OrderStatus queries the remote order state. A 404 maps to StatusNotFound
// rather than an error: "the brokerage does not know this order" is a
// first-class outcome the reconciliation poller acts on.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var resp struct {
		Status        string          `json:"status"`
		Side          string          `json:"side"`
		LotsRequested int             `json:"lots_requested"`
		LotsExecuted  int             `json:"lots_executed"`
		AvgPrice      decimal.Decimal `json:"avg_price"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/orders/%s", c.accountID, orderID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if he, ok := err.(*httpError); ok && he.status == http.StatusNotFound {
			return OrderStatus{Code: StatusNotFound}, nil
		}
		return OrderStatus{}, err
	}
	return OrderStatus{
		Code:          StatusCode(resp.Status),
		Side:          domain.Side(resp.Side),
		LotsRequested: resp.LotsRequested,
		LotsExecuted:  resp.LotsExecuted,
		AvgPrice:      resp.AvgPrice,
	}, nil
}

// --- market data ---

func (c *Client) LastPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	var resp struct {
		Price decimal.Decimal `json:"price"`
	}
	path := "/v1/market/last-price?instrument_id=" + url.QueryEscape(instrumentID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Price, nil
}

func (c *Client) Candles(ctx context.Context, instrumentID string, lookback time.Duration) ([]Candle, error) {
	to := time.Now().UTC()
	// Small pad so a bar forming right at the window edge is included.
	from := to.Add(-lookback - 5*time.Minute)

	var resp struct {
		Candles []Candle `json:"candles"`
	}
	path := fmt.Sprintf("/v1/market/candles?instrument_id=%s&interval=1min&from=%s&to=%s",
		url.QueryEscape(instrumentID),
		url.QueryEscape(from.Format(time.RFC3339)),
		url.QueryEscape(to.Format(time.RFC3339)))
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Candles, nil
}
