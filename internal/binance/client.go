// Package binance implements the MarketGateway against the Binance spot,
// isolated-margin and USDT-futures REST APIs.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"basis-arb-bot/internal/gateway"

	"go.uber.org/zap"
)

const (
	quoteAsset     = "USDT"
	recvWindowMS   = "5000"
	futuresSpotDir = "2" // USDT_FUTURE -> SPOT
	spotFuturesDir = "1" // SPOT -> USDT_FUTURE
)

type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	signer         *signer
	http           *http.Client
	log            *zap.Logger

	mu        sync.Mutex
	stepCache map[string]float64
}

func New(spotBaseURL, futuresBaseURL string, timeout time.Duration, apiKey, apiSecret string, log *zap.Logger) *Client {
	return &Client{
		spotBaseURL:    strings.TrimRight(spotBaseURL, "/"),
		futuresBaseURL: strings.TrimRight(futuresBaseURL, "/"),
		signer:         newSigner(apiKey, apiSecret),
		http:           &http.Client{Timeout: timeout},
		log:            log,
		stepCache:      make(map[string]float64),
	}
}

func (c *Client) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Price string `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, c.spotBaseURL, "/api/v3/ticker/price", params, false, &out); err != nil {
		return 0, err
	}
	return parsePrice(out.Price, symbol)
}

func (c *Client) FuturesPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Price string `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, c.futuresBaseURL, "/fapi/v1/ticker/price", params, false, &out); err != nil {
		return 0, err
	}
	return parsePrice(out.Price, symbol)
}

// LotStepSize returns the LOT_SIZE step for the symbol on the given market.
// Results are cached: exchange filters change rarely and the call is made on
// every sizing pass.
func (c *Client) LotStepSize(ctx context.Context, symbol string, market gateway.MarketType) (float64, error) {
	key := string(market) + ":" + symbol
	c.mu.Lock()
	if step, ok := c.stepCache[key]; ok {
		c.mu.Unlock()
		return step, nil
	}
	c.mu.Unlock()

	base, path := c.spotBaseURL, "/api/v3/exchangeInfo"
	if market == gateway.MarketFutures {
		base, path = c.futuresBaseURL, "/fapi/v1/exchangeInfo"
	}
	var out exchangeInfo
	params := url.Values{}
	if market != gateway.MarketFutures {
		params.Set("symbol", symbol)
	}
	if err := c.get(ctx, base, path, params, false, &out); err != nil {
		return 0, err
	}
	step, ok := out.lotStep(symbol)
	if !ok {
		return 0, fmt.Errorf("no LOT_SIZE filter for %s on %s", symbol, market)
	}
	c.mu.Lock()
	c.stepCache[key] = step
	c.mu.Unlock()
	return step, nil
}

func (c *Client) AvailableBalance(ctx context.Context, wallet gateway.Wallet) (float64, error) {
	switch wallet {
	case gateway.WalletFutures:
		var out []struct {
			Asset             string `json:"asset"`
			WithdrawAvailable string `json:"withdrawAvailable"`
		}
		if err := c.get(ctx, c.futuresBaseURL, "/fapi/v2/balance", url.Values{}, true, &out); err != nil {
			return 0, err
		}
		for _, entry := range out {
			if entry.Asset == quoteAsset {
				return parsePrice(entry.WithdrawAvailable, quoteAsset)
			}
		}
		return 0, nil
	default:
		var out struct {
			Balances []struct {
				Asset string `json:"asset"`
				Free  string `json:"free"`
			} `json:"balances"`
		}
		if err := c.get(ctx, c.spotBaseURL, "/api/v3/account", url.Values{}, true, &out); err != nil {
			return 0, err
		}
		for _, entry := range out.Balances {
			if entry.Asset == quoteAsset {
				return parsePrice(entry.Free, quoteAsset)
			}
		}
		return 0, nil
	}
}

func (c *Client) IsolatedMarginQuoteBalance(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Assets []struct {
			Symbol     string `json:"symbol"`
			QuoteAsset struct {
				Free string `json:"free"`
			} `json:"quoteAsset"`
		} `json:"assets"`
	}
	params := url.Values{"symbols": {symbol}}
	if err := c.get(ctx, c.spotBaseURL, "/sapi/v1/margin/isolated/account", params, true, &out); err != nil {
		return 0, err
	}
	for _, asset := range out.Assets {
		if asset.Symbol == symbol {
			return parsePrice(asset.QuoteAsset.Free, symbol)
		}
	}
	return 0, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, order gateway.Order) (gateway.Fill, error) {
	params := url.Values{
		"symbol":   {order.Symbol},
		"side":     {string(order.Side)},
		"type":     {"MARKET"},
		"quantity": {formatQuantity(order.Quantity)},
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}
	base, path := c.spotBaseURL, "/sapi/v1/margin/order"
	switch order.Market {
	case gateway.MarketFutures:
		base, path = c.futuresBaseURL, "/fapi/v1/order"
	case gateway.MarketSpot:
		path = "/api/v3/order"
	default:
		params.Set("isIsolated", "TRUE")
	}
	var out struct {
		OrderID     json.Number `json:"orderId"`
		ExecutedQty string      `json:"executedQty"`
		CumQuote    string      `json:"cummulativeQuoteQty"`
		AvgPrice    string      `json:"avgPrice"`
	}
	if err := c.post(ctx, base, path, params, &out); err != nil {
		return gateway.Fill{}, err
	}
	fill := gateway.Fill{OrderID: out.OrderID.String(), Symbol: order.Symbol, Quantity: order.Quantity}
	if qty, err := strconv.ParseFloat(out.ExecutedQty, 64); err == nil && qty > 0 {
		fill.Quantity = qty
		if quote, err := strconv.ParseFloat(out.CumQuote, 64); err == nil && quote > 0 {
			fill.Price = quote / qty
		}
	}
	if fill.Price == 0 {
		if avg, err := strconv.ParseFloat(out.AvgPrice, 64); err == nil {
			fill.Price = avg
		}
	}
	return fill, nil
}

func (c *Client) BorrowAsset(ctx context.Context, symbol, asset string, quantity float64) error {
	params := url.Values{
		"asset":      {asset},
		"amount":     {formatQuantity(quantity)},
		"isIsolated": {"TRUE"},
		"symbol":     {symbol},
	}
	return c.post(ctx, c.spotBaseURL, "/sapi/v1/margin/loan", params, nil)
}

func (c *Client) RepayLoan(ctx context.Context, symbol, asset string, quantity float64) error {
	params := url.Values{
		"asset":      {asset},
		"amount":     {formatQuantity(quantity)},
		"isIsolated": {"TRUE"},
		"symbol":     {symbol},
	}
	return c.post(ctx, c.spotBaseURL, "/sapi/v1/margin/repay", params, nil)
}

func (c *Client) Transfer(ctx context.Context, symbol string, from, to gateway.Wallet, asset string, amount float64) error {
	switch {
	case from == gateway.WalletSpot && to == gateway.WalletIsolatedMargin,
		from == gateway.WalletIsolatedMargin && to == gateway.WalletSpot:
		params := url.Values{
			"asset":     {asset},
			"symbol":    {symbol},
			"amount":    {formatQuantity(amount)},
			"transFrom": {walletCode(from)},
			"transTo":   {walletCode(to)},
		}
		return c.post(ctx, c.spotBaseURL, "/sapi/v1/margin/isolated/transfer", params, nil)
	case from == gateway.WalletSpot && to == gateway.WalletFutures:
		return c.futuresTransfer(ctx, asset, amount, spotFuturesDir)
	case from == gateway.WalletFutures && to == gateway.WalletSpot:
		return c.futuresTransfer(ctx, asset, amount, futuresSpotDir)
	default:
		return fmt.Errorf("unsupported transfer %s -> %s", from, to)
	}
}

func (c *Client) futuresTransfer(ctx context.Context, asset string, amount float64, direction string) error {
	params := url.Values{
		"asset":  {asset},
		"amount": {formatQuantity(amount)},
		"type":   {direction},
	}
	return c.post(ctx, c.spotBaseURL, "/sapi/v1/futures/transfer", params, nil)
}

// TradableSymbols returns all USDT-quoted pairs currently open for trading.
func (c *Client) TradableSymbols(ctx context.Context) ([]string, error) {
	var out exchangeInfo
	if err := c.get(ctx, c.spotBaseURL, "/api/v3/exchangeInfo", url.Values{}, false, &out); err != nil {
		return nil, err
	}
	var symbols []string
	for _, s := range out.Symbols {
		if s.QuoteAsset == quoteAsset && s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (e exchangeInfo) lotStep(symbol string) (float64, bool) {
	for _, s := range e.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				step, err := strconv.ParseFloat(f.StepSize, 64)
				return step, err == nil && step > 0
			}
		}
	}
	return 0, false
}

func (c *Client) get(ctx context.Context, base, path string, params url.Values, signed bool, out any) error {
	return c.request(ctx, http.MethodGet, base, path, params, signed, out)
}

func (c *Client) post(ctx context.Context, base, path string, params url.Values, out any) error {
	return c.request(ctx, http.MethodPost, base, path, params, true, out)
}

func (c *Client) request(ctx context.Context, method, base, path string, params url.Values, signed bool, out any) error {
	if signed {
		var err error
		params, err = c.signer.sign(params)
		if err != nil {
			return err
		}
	}
	reqURL := base + path
	if encoded := params.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.signer.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parsePrice(raw, symbol string) (float64, error) {
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q for %s: %w", raw, symbol, err)
	}
	return price, nil
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func walletCode(w gateway.Wallet) string {
	if w == gateway.WalletIsolatedMargin {
		return "ISOLATED_MARGIN"
	}
	return "SPOT"
}
