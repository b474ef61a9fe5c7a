// Package binance is a thin client for the Binance spot public market-data API.
// It mirrors routes, request helpers and response parsing for the REST endpoints,
// plus a websocket stream client with subscribe/resubscribe and heartbeat handling.
//
// Usage example:
//
//	bc := binance.NewClient(binance.Config{Debug: true})
//	kl, err := bc.Klines("BTCUSDT", binance.Interval1m, 100)
//	if err != nil { log.Fatal(err) }
//	fmt.Println("last close:", kl[len(kl)-1].Close)
package binance

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ---- Config & client ----

type Config struct {
	BaseURL string        // default: https://api.binance.com
	Timeout time.Duration // default: 7s
	Debug   bool
	ProxyURL string // optional HTTP proxy URL
}

type Client struct {
	baseURL string
	debug   bool
	timeout time.Duration

	httpClient *http.Client
}

const defaultBaseURL = "https://api.binance.com"

var routes = map[string]string{
	"api.ping":          "/api/v3/ping",
	"api.time":          "/api/v3/time",
	"api.exchange.info": "/api/v3/exchangeInfo",

	"api.klines":        "/api/v3/klines",
	"api.trades.recent": "/api/v3/trades",
	"api.depth":         "/api/v3/depth",

	"api.ticker.24h":   "/api/v3/ticker/24hr",
	"api.ticker.price": "/api/v3/ticker/price",
	"api.avg.price":    "/api/v3/avgPrice",
}

// Kline intervals accepted by the klines endpoint.
const (
	Interval1s  = "1s"
	Interval1m  = "1m"
	Interval3m  = "3m"
	Interval5m  = "5m"
	Interval15m = "15m"
	Interval1h  = "1h"
	Interval4h  = "4h"
	Interval1d  = "1d"
)

// NewClient initializes the REST client with sane defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}

	tr := &http.Transport{}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		debug:      cfg.Debug,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Transport: tr, Timeout: cfg.Timeout},
	}
}

// APIError is the error body Binance returns on failed requests,
// e.g. {"code":-1121,"msg":"Invalid symbol."}.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: code=%d msg=%s", e.Code, e.Msg)
}

// ---- Helpers ----

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return c.baseURL + uri, nil
}

// doRequest performs the HTTP call and returns the raw body. Market-data
// endpoints respond with both JSON objects and bare arrays, so decoding is
// left to the typed wrappers.
func (c *Client) doRequest(method, route string, params map[string]any) ([]byte, int, error) {
	fullURL, err := c.buildURL(route)
	if err != nil {
		return nil, 0, err
	}

	reqURL := fullURL
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, toString(v))
		}
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequest(method, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	if c.debug {
		log.Printf("Request: %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("HTTP error: %s %s err=%v", method, reqURL, err)
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if c.debug {
		log.Printf("Response: code=%d body=%s", resp.StatusCode, string(raw))
	}

	// 429 is a rate-limit warning, 418 an IP ban after ignoring 429s.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		log.Printf("rate limited: status=%d retry-after=%s", resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if jerr := json.Unmarshal(raw, &apiErr); jerr == nil && apiErr.Msg != "" {
			return raw, resp.StatusCode, &apiErr
		}
		return raw, resp.StatusCode, fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}
	return raw, resp.StatusCode, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (c *Client) get(route string, params map[string]any) ([]byte, error) {
	raw, _, err := c.doRequest(http.MethodGet, route, params)
	return raw, err
}

// asFloat coerces the mixed number encodings Binance uses (quoted decimals
// in most payloads, plain numbers in a few) into float64.
func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case json.Number:
		n, _ := t.Int64()
		return n
	default:
		return 0
	}
}

// ---- Connectivity ----

// Ping checks REST connectivity.
func (c *Client) Ping() error {
	_, err := c.get("api.ping", nil)
	return err
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime() (time.Time, error) {
	raw, err := c.get("api.time", nil)
	if err != nil {
		return time.Time{}, err
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return time.Time{}, fmt.Errorf("couldn't parse server time: %w", err)
	}
	return time.Unix(0, out.ServerTime*int64(time.Millisecond)).UTC(), nil
}

// ---- Exchange info ----

type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// SymbolFilter carries the union of filter fields; which ones are set
// depends on FilterType.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// Filter returns the first filter of the given type.
func (si SymbolInfo) Filter(filterType string) (SymbolFilter, bool) {
	for _, f := range si.Filters {
		if f.FilterType == filterType {
			return f, true
		}
	}
	return SymbolFilter{}, false
}

// MinNotional returns the minimum order notional, 0 when unfiltered.
// Newer listings use NOTIONAL, older ones MIN_NOTIONAL.
func (si SymbolInfo) MinNotional() float64 {
	if f, ok := si.Filter("NOTIONAL"); ok {
		return asFloat(f.MinNotional)
	}
	if f, ok := si.Filter("MIN_NOTIONAL"); ok {
		return asFloat(f.MinNotional)
	}
	return 0
}

// TickSize returns the price increment from PRICE_FILTER, 0 when unfiltered.
func (si SymbolInfo) TickSize() float64 {
	if f, ok := si.Filter("PRICE_FILTER"); ok {
		return asFloat(f.TickSize)
	}
	return 0
}

// StepSize returns the quantity increment from LOT_SIZE, 0 when unfiltered.
func (si SymbolInfo) StepSize() float64 {
	if f, ok := si.Filter("LOT_SIZE"); ok {
		return asFloat(f.StepSize)
	}
	return 0
}

// ExchangeInfo fetches trading rules and per-symbol filters. Pass symbols to
// restrict the response, or none for the full listing.
func (c *Client) ExchangeInfo(symbols ...string) (*ExchangeInfo, error) {
	params := map[string]any{}
	if len(symbols) == 1 {
		params["symbol"] = symbols[0]
	} else if len(symbols) > 1 {
		b, _ := json.Marshal(symbols)
		params["symbols"] = string(b)
	}
	raw, err := c.get("api.exchange.info", params)
	if err != nil {
		return nil, err
	}
	var out ExchangeInfo
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("couldn't parse exchange info: %w", err)
	}
	return &out, nil
}

// ---- Klines ----

// Kline is one OHLCV bar from the klines endpoint.
type Kline struct {
	OpenTime    time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	CloseTime   time.Time
	QuoteVolume float64
	Trades      int64
}

// Klines fetches the most recent bars. limit<=0 uses the exchange default (500).
func (c *Client) Klines(symbol, interval string, limit int) ([]Kline, error) {
	params := map[string]any{"symbol": symbol, "interval": interval}
	if limit > 0 {
		params["limit"] = limit
	}
	return c.fetchKlines(params)
}

// KlinesBetween fetches bars whose open time falls in [start, end].
func (c *Client) KlinesBetween(symbol, interval string, start, end time.Time, limit int) ([]Kline, error) {
	params := map[string]any{
		"symbol":    symbol,
		"interval":  interval,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return c.fetchKlines(params)
}

func (c *Client) fetchKlines(params map[string]any) ([]Kline, error) {
	raw, err := c.get("api.klines", params)
	if err != nil {
		return nil, err
	}

	// Each row is a 12-element array of mixed numbers and quoted decimals:
	// [openTime, "open", "high", "low", "close", "volume", closeTime,
	//  "quoteVolume", trades, "takerBase", "takerQuote", "ignore"]
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("couldn't parse klines: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for i, row := range rows {
		kl, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("kline row %d: %w", i, err)
		}
		out = append(out, kl)
	}
	return out, nil
}

func parseKlineRow(row []any) (Kline, error) {
	if len(row) < 9 {
		return Kline{}, fmt.Errorf("short row: %d fields", len(row))
	}
	return Kline{
		OpenTime:    time.Unix(0, asInt64(row[0])*int64(time.Millisecond)).UTC(),
		Open:        asFloat(row[1]),
		High:        asFloat(row[2]),
		Low:         asFloat(row[3]),
		Close:       asFloat(row[4]),
		Volume:      asFloat(row[5]),
		CloseTime:   time.Unix(0, asInt64(row[6])*int64(time.Millisecond)).UTC(),
		QuoteVolume: asFloat(row[7]),
		Trades:      asInt64(row[8]),
	}, nil
}

// ---- Tickers ----

// Ticker24h is the rolling 24h statistics for one symbol.
type Ticker24h struct {
	Symbol         string
	LastPrice      float64
	PriceChange    float64
	PriceChangePct float64
	HighPrice      float64
	LowPrice       float64
	Volume         float64
	QuoteVolume    float64
	Trades         int64
}

// Ticker24h returns the rolling 24h stats for one symbol.
func (c *Client) Ticker24h(symbol string) (*Ticker24h, error) {
	raw, err := c.get("api.ticker.24h", map[string]any{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("couldn't parse 24h ticker: %w", err)
	}
	sym, _ := m["symbol"].(string)
	return &Ticker24h{
		Symbol:         sym,
		LastPrice:      asFloat(m["lastPrice"]),
		PriceChange:    asFloat(m["priceChange"]),
		PriceChangePct: asFloat(m["priceChangePercent"]),
		HighPrice:      asFloat(m["highPrice"]),
		LowPrice:       asFloat(m["lowPrice"]),
		Volume:         asFloat(m["volume"]),
		QuoteVolume:    asFloat(m["quoteVolume"]),
		Trades:         asInt64(m["count"]),
	}, nil
}

// TickerPrice returns the latest traded price for one symbol.
func (c *Client) TickerPrice(symbol string) (float64, error) {
	raw, err := c.get("api.ticker.price", map[string]any{"symbol": symbol})
	if err != nil {
		return 0, err
	}
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("couldn't parse price ticker: %w", err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("bad price %q: %w", out.Price, err)
	}
	return price, nil
}

// AvgPrice returns the current average price for one symbol.
func (c *Client) AvgPrice(symbol string) (float64, error) {
	raw, err := c.get("api.avg.price", map[string]any{"symbol": symbol})
	if err != nil {
		return 0, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, fmt.Errorf("couldn't parse avg price: %w", err)
	}
	return asFloat(m["price"]), nil
}
