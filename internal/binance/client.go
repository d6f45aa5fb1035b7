// Package binance provides the futures market-data REST client, the weight
// rate limiter and the combined WebSocket stream.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"futures-signal-bot/internal/logging"
)

// Client is a read-only Binance Futures REST client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *logging.Logger
}

// NewClient creates a futures REST client.
func NewClient(baseURL string, rateLimiter *RateLimiter) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		rateLimiter: rateLimiter,
		logger:      logging.WithComponent("binance"),
	}
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, priority RequestPriority) ([]byte, error) {
	if !c.rateLimiter.WaitForSlot(endpoint, priority, 30*time.Second) {
		return nil, fmt.Errorf("rate limit slot unavailable for %s", endpoint)
	}

	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
		if weight, err := strconv.Atoi(usedWeight); err == nil {
			c.rateLimiter.UpdateFromHeaders(weight)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		var banUntilMs int64
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				banUntilMs = time.Now().Add(time.Duration(seconds) * time.Second).UnixMilli()
			}
		}
		c.rateLimiter.RecordRateLimitError(banUntilMs)
		return nil, fmt.Errorf("rate limited on %s (status %d)", endpoint, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, endpoint, string(body))
	}

	return body, nil
}

// ExchangeInfo is the subset of /fapi/v1/exchangeInfo the engine consumes.
type ExchangeInfo struct {
	Symbols []ExchangeSymbol `json:"symbols"`
}

// ExchangeSymbol describes one listed contract.
type ExchangeSymbol struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ContractType string `json:"contractType"`
	QuoteAsset   string `json:"quoteAsset"`
}

// GetExchangeInfo fetches the contract catalog.
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	body, err := c.doRequest(ctx, "/fapi/v1/exchangeInfo", nil, PriorityLow)
	if err != nil {
		return nil, err
	}

	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse exchange info: %w", err)
	}
	return &info, nil
}

// Ticker24h is one row of the 24h rolling-window statistics.
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"lastPrice,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	TradeCount         int64   `json:"count"`
}

// Get24hrTickers fetches the 24h statistics for every contract.
func (c *Client) Get24hrTickers(ctx context.Context) ([]Ticker24h, error) {
	body, err := c.doRequest(ctx, "/fapi/v1/ticker/24hr", nil, PriorityLow)
	if err != nil {
		return nil, err
	}

	var tickers []Ticker24h
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("failed to parse 24hr tickers: %w", err)
	}
	return tickers, nil
}

// OpenInterest is the current open interest for one contract.
type OpenInterest struct {
	Symbol       string  `json:"symbol"`
	OpenInterest float64 `json:"openInterest,string"`
}

// GetOpenInterest fetches the open interest for a symbol.
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (*OpenInterest, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, "/fapi/v1/openInterest", params, PriorityLow)
	if err != nil {
		return nil, err
	}

	var oi OpenInterest
	if err := json.Unmarshal(body, &oi); err != nil {
		return nil, fmt.Errorf("failed to parse open interest for %s: %w", symbol, err)
	}
	return &oi, nil
}

// PremiumIndex carries the mark price for one contract.
type PremiumIndex struct {
	Symbol    string  `json:"symbol"`
	MarkPrice float64 `json:"markPrice,string"`
}

// GetPremiumIndex fetches the mark price for a symbol.
func (c *Client) GetPremiumIndex(ctx context.Context, symbol string) (*PremiumIndex, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, "/fapi/v1/premiumIndex", params, PriorityLow)
	if err != nil {
		return nil, err
	}

	var pi PremiumIndex
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, fmt.Errorf("failed to parse premium index for %s: %w", symbol, err)
	}
	return &pi, nil
}

// RESTKline is one candle from /fapi/v1/klines.
type RESTKline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// GetKlines fetches up to limit candles for symbol/interval, oldest first.
// The response rows are positional arrays.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, priority RequestPriority) ([]RESTKline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, "/fapi/v1/klines", params, priority)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines for %s: %w", symbol, err)
	}

	klines := make([]RESTKline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		k, err := parseKlineRow(row)
		if err != nil {
			c.logger.WithError(err).Warn("Skipping malformed kline row", "symbol", symbol)
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKlineRow(row []interface{}) (RESTKline, error) {
	openTime, ok := row[0].(float64)
	if !ok {
		return RESTKline{}, fmt.Errorf("invalid open time %v", row[0])
	}
	closeTime, ok := row[6].(float64)
	if !ok {
		return RESTKline{}, fmt.Errorf("invalid close time %v", row[6])
	}

	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return RESTKline{}, fmt.Errorf("invalid field at index %d: %v", i, row[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return RESTKline{}, fmt.Errorf("invalid numeric field at index %d: %w", i, err)
		}
		values[i-1] = v
	}

	return RESTKline{
		OpenTime:  int64(openTime),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		CloseTime: int64(closeTime),
	}, nil
}

// Depth is a depth snapshot with parsed levels. Bids descend, asks ascend.
type Depth struct {
	Bids [][2]float64
	Asks [][2]float64
}

type rawDepth struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// GetDepth fetches an order-book snapshot with up to limit levels per side.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int, priority RequestPriority) (*Depth, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, "/fapi/v1/depth", params, priority)
	if err != nil {
		return nil, err
	}

	var raw rawDepth
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse depth for %s: %w", symbol, err)
	}

	depth := &Depth{
		Bids: parseDepthLevels(raw.Bids),
		Asks: parseDepthLevels(raw.Asks),
	}
	return depth, nil
}

func parseDepthLevels(raw [][]string) [][2]float64 {
	levels := make([][2]float64, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(l[0], 64)
		size, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, [2]float64{price, size})
	}
	return levels
}
