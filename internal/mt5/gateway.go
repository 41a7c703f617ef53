package mt5

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Quotes older than this are treated as stale and not acted on.
const defaultMaxQuoteAge = 30 * time.Second

// GatewayClient talks to an MT5 gateway over HTTP JSON.
type GatewayClient struct {
	baseURL     string
	apiToken    string
	maxQuoteAge time.Duration
	httpClient  *http.Client
}

// NewGatewayClient creates a client against the given gateway base URL.
// Zero timeout and quote age fall back to the defaults.
func NewGatewayClient(baseURL, apiToken string, timeout, maxQuoteAge time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if maxQuoteAge <= 0 {
		maxQuoteAge = defaultMaxQuoteAge
	}
	return &GatewayClient{
		baseURL:     baseURL,
		apiToken:    apiToken,
		maxQuoteAge: maxQuoteAge,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *GatewayClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *GatewayClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *GatewayClient) do(req *http.Request, out interface{}) error {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway status %d: %s", ErrTransient, resp.StatusCode, string(data))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway status %d: %s", ErrRejected, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing gateway response: %w", err)
		}
	}
	return nil
}

// RecentBars fetches the latest count bars for a symbol.
func (c *GatewayClient) RecentBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", string(tf))
	params.Set("count", strconv.Itoa(count))

	var bars []Bar
	if err := c.get(ctx, "/api/v1/bars", params, &bars); err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}
	if len(bars) < count {
		return nil, fmt.Errorf("%w: got %d bars for %s, wanted %d", ErrStaleData, len(bars), symbol, count)
	}
	return bars, nil
}

// Quote fetches the current bid/ask for a symbol.
func (c *GatewayClient) Quote(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var q Quote
	if err := c.get(ctx, "/api/v1/quote", params, &q); err != nil {
		return Quote{}, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	if !q.Time.IsZero() && time.Since(q.Time) > c.maxQuoteAge {
		return Quote{}, fmt.Errorf("%w: quote for %s is %s old", ErrStaleData, symbol, time.Since(q.Time).Round(time.Second))
	}
	return q, nil
}

// SymbolConstraints fetches the venue trading rules for a symbol.
func (c *GatewayClient) SymbolConstraints(ctx context.Context, symbol string) (SymbolConstraints, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var sc SymbolConstraints
	if err := c.get(ctx, "/api/v1/symbol", params, &sc); err != nil {
		return SymbolConstraints{}, fmt.Errorf("fetching constraints for %s: %w", symbol, err)
	}
	return sc, nil
}

// OpenPositions lists open positions for one symbol.
func (c *GatewayClient) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var positions []Position
	if err := c.get(ctx, "/api/v1/positions", params, &positions); err != nil {
		return nil, fmt.Errorf("fetching positions for %s: %w", symbol, err)
	}
	return positions, nil
}

// AllPositions lists every open position on the account.
func (c *GatewayClient) AllPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.get(ctx, "/api/v1/positions", nil, &positions); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	return positions, nil
}

// SubmitOrder sends a market order to the gateway.
func (c *GatewayClient) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var res OrderResult
	if err := c.post(ctx, "/api/v1/order", req, &res); err != nil {
		return res, fmt.Errorf("submitting %s %s: %w", req.Side, req.Symbol, err)
	}
	if err := RetcodeError(res.Retcode, res.CommentText); err != nil {
		return res, err
	}
	return res, nil
}

// ModifyStopLoss updates the stop loss of an open position.
func (c *GatewayClient) ModifyStopLoss(ctx context.Context, req ModifyRequest) error {
	var res OrderResult
	if err := c.post(ctx, "/api/v1/modify", req, &res); err != nil {
		return fmt.Errorf("modifying stop for ticket %d: %w", req.Ticket, err)
	}
	return RetcodeError(res.Retcode, res.CommentText)
}

// ClosePosition closes an open position at market.
func (c *GatewayClient) ClosePosition(ctx context.Context, req CloseRequest) (OrderResult, error) {
	var res OrderResult
	if err := c.post(ctx, "/api/v1/close", req, &res); err != nil {
		return res, fmt.Errorf("closing ticket %d: %w", req.Ticket, err)
	}
	if err := RetcodeError(res.Retcode, res.CommentText); err != nil {
		return res, err
	}
	return res, nil
}
