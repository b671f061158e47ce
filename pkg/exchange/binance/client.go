// Package binance implements the exchange-facing clients: the signed REST
// client used by the live order adapter and the public websocket stream
// client used by market-data ingestion.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

const (
	defaultBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	requestTimeout = 15 * time.Second
	weightLimit    = 1200
)

// Credentials carry the API key pair for signed endpoints.
type Credentials struct {
	APIKey    string
	APISecret string
}

// CredentialsFunc supplies credentials lazily; the first signed call loads
// them through the secret provider.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// APIError is an exchange-level rejection (HTTP status plus the exchange's
// error code and message).
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// IsServerError reports whether the error is a transient 5xx that should
// count toward the live adapter's circuit breaker. Hard 4xx rejections do
// not trip the circuit.
func IsServerError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Transport-level failures (dial, reset, timeout) count as transient.
	return err != nil
}

// IsRateLimited reports whether the exchange returned 429/418.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusTooManyRequests || apiErr.Status == 418)
}

// Config configures the REST client.
type Config struct {
	BaseURL    string
	UseTestnet bool
	RecvWindow int64 // ms
}

// Client is the signed REST client. Every signed request carries a unix-ms
// timestamp and an HMAC-SHA256 signature over the canonical query string;
// requests are throttled by the rolling-minute weight limiter.
type Client struct {
	http    *resty.Client
	creds   CredentialsFunc
	limiter *WeightLimiter
	recvWin int64
	log     zerolog.Logger
}

// NewClient builds a REST client. Retries are limited to 5xx responses so a
// hard rejection is surfaced immediately.
func NewClient(cfg Config, creds CredentialsFunc, log zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
		if cfg.UseTestnet {
			base = testnetBaseURL
		}
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(requestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:    httpClient,
		creds:   creds,
		limiter: NewWeightLimiter(weightLimit, time.Minute),
		recvWin: cfg.RecvWindow,
		log:     log.With().Str("component", "binance").Logger(),
	}
}

// Limiter exposes the weight limiter for tests and metrics.
func (c *Client) Limiter() *WeightLimiter { return c.limiter }

func formatOrderID(id int64) string { return strconv.FormatInt(id, 10) }

func formatDecimal(d decimal.Decimal) string { return d.String() }

// PlaceOrder submits an order and returns the exchange's view of it. Limit
// orders are sent good-till-cancelled.
func (c *Client) PlaceOrder(ctx context.Context, o types.Order) (OrderFill, error) {
	p := newParams().
		Add("symbol", o.Symbol).
		Add("side", string(o.Side)).
		Add("type", string(o.Type)).
		Add("quantity", formatDecimal(o.Quantity))

	switch o.Type {
	case types.OrderTypeLimit, types.OrderTypeStopLossLimit, types.OrderTypeTakeProfitLimit:
		if o.Price != nil {
			p.Add("price", formatDecimal(*o.Price))
		}
		p.Add("timeInForce", "GTC")
	}
	switch o.Type {
	case types.OrderTypeStopLoss, types.OrderTypeStopLossLimit, types.OrderTypeTakeProfit, types.OrderTypeTakeProfitLimit:
		if o.StopPrice != nil {
			p.Add("stopPrice", formatDecimal(*o.StopPrice))
		}
	}
	p.Add("newClientOrderId", o.ID)

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", p, weightOrder)
	if err != nil {
		return OrderFill{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderFill{}, fmt.Errorf("decode order response: %w", err)
	}
	return resp.fill(), nil
}

// QueryOrder fetches the current state of an order by exchange id.
func (c *Client) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderFill, error) {
	p := newParams().
		Add("symbol", symbol).
		Add("orderId", exchangeOrderID)

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", p, weightQuery)
	if err != nil {
		return OrderFill{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderFill{}, fmt.Errorf("decode order response: %w", err)
	}
	return resp.fill(), nil
}

// CancelOrder cancels an open order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	p := newParams().
		Add("symbol", symbol).
		Add("orderId", exchangeOrderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", p, weightOrder)
	return err
}

// doSigned appends timestamp and recvWindow, signs the canonical query in
// insertion order, and performs the request under the weight limiter.
func (c *Client) doSigned(ctx context.Context, method, path string, p *params, weight int) ([]byte, error) {
	creds, err := c.creds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}

	if err := c.limiter.Wait(ctx, weight); err != nil {
		return nil, err
	}

	p.Add("recvWindow", strconv.FormatInt(c.recvWin, 10))
	p.Add("timestamp", strconv.FormatInt(time.Now().UTC().UnixMilli(), 10))
	query := p.Encode()
	query += "&signature=" + sign(query, creds.APISecret)

	// The signature covers the query string byte-for-byte, so the query is
	// appended raw instead of going through resty's (sorting) param encoder.
	endpoint := path + "?" + query
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", creds.APIKey)

	var res *resty.Response
	switch method {
	case http.MethodPost:
		res, err = req.Post(endpoint)
	case http.MethodDelete:
		res, err = req.Delete(endpoint)
	default:
		res, err = req.Get(endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", method, path, err)
	}

	if used, convErr := strconv.Atoi(res.Header().Get("X-MBX-USED-WEIGHT-1M")); convErr == nil {
		c.limiter.syncFromHeader(used)
	}

	if res.StatusCode() >= 300 {
		apiErr := &APIError{Status: res.StatusCode()}
		var body apiError
		if jsonErr := json.Unmarshal(res.Body(), &body); jsonErr == nil {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		} else {
			apiErr.Message = string(res.Body())
		}
		return nil, apiErr
	}
	return res.Body(), nil
}

// TickerPrice returns the last traded price for a symbol from the public
// ticker endpoint. The polling fallback provider is built on this.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx, weightOrder); err != nil {
		return decimal.Zero, err
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/api/v3/ticker/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	if res.StatusCode() >= 300 {
		return decimal.Zero, &APIError{Status: res.StatusCode(), Message: string(res.Body())}
	}
	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker price: %w", err)
	}
	return decimal.NewFromString(body.Price)
}

// Ping checks REST connectivity, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get("/api/v3/ping")
	if err != nil {
		return err
	}
	if res.StatusCode() >= 300 {
		return &APIError{Status: res.StatusCode(), Message: string(res.Body())}
	}
	return nil
}
