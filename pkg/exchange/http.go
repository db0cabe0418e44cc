package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/phenomenon0/oddsedge/pkg/book"
)

// HTTPClient talks to a venue's REST API. It satisfies Client.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = client }
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *HTTPClient) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewHTTPClient builds a venue client for the given base URL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// bookResponse is the wire shape of an order book.
type bookResponse struct {
	InstrumentID string      `json:"instrument_id"`
	Bids         []levelJSON `json:"bids"`
	Asks         []levelJSON `json:"asks"`
}

type levelJSON struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// apiError is the venue's error envelope.
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// GetOrderBook fetches the book for an instrument.
func (c *HTTPClient) GetOrderBook(ctx context.Context, instrumentID string) (*book.Book, error) {
	params := url.Values{"instrument_id": {instrumentID}}
	var resp bookResponse
	if err := c.get(ctx, "/orderbook", params, &resp); err != nil {
		return nil, err
	}

	toLevels := func(in []levelJSON) []book.Level {
		out := make([]book.Level, len(in))
		for i, l := range in {
			out[i] = book.Level{Price: l.Price, Size: l.Size}
		}
		return out
	}

	b := book.New(instrumentID)
	b.Replace(toLevels(resp.Bids), toLevels(resp.Asks))
	return b, nil
}

// PlaceOrder submits a limit order.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.InstrumentID == "" || req.Size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: instrument and positive size required", ErrInvalidInput)
	}
	req.SideLabel = req.Side.String()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	var order Order
	if err := c.post(ctx, "/orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels an open order.
func (c *HTTPClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil, nil)
}

// GetActiveOrders lists open orders.
func (c *HTTPClient) GetActiveOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := c.get(ctx, "/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, result)
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, result)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body []byte, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mapError converts a venue error response into the package's sentinels so
// callers can branch with errors.Is.
func (c *HTTPClient) mapError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var ae apiError
	_ = json.Unmarshal(raw, &ae)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, ae.Message)
	case ae.Code == "no_liquidity":
		return fmt.Errorf("%w: %s", ErrNoLiquidity, ae.Message)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidInput, ae.Message)
	default:
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(raw))
	}
}
