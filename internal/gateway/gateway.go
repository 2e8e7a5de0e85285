// Package gateway defines the market and execution surface the engine
// consumes, plus the retry decorator every external call goes through.
package gateway

import "context"

type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketMargin  MarketType = "MARGIN"
	MarketFutures MarketType = "FUTURES"
)

type Wallet string

const (
	WalletSpot           Wallet = "SPOT"
	WalletIsolatedMargin Wallet = "ISOLATED_MARGIN"
	WalletFutures        Wallet = "FUTURES"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Order struct {
	Symbol        string
	Side          Side
	Quantity      float64
	Market        MarketType
	ClientOrderID string
}

type Fill struct {
	OrderID  string
	Symbol   string
	Quantity float64
	Price    float64
}

// MarketGateway is the exchange surface consumed by the engine. Every
// operation is idempotent-safe to retry except PlaceMarketOrder, which the
// exec package de-duplicates by client order id.
type MarketGateway interface {
	SpotPrice(ctx context.Context, symbol string) (float64, error)
	FuturesPrice(ctx context.Context, symbol string) (float64, error)
	LotStepSize(ctx context.Context, symbol string, market MarketType) (float64, error)
	AvailableBalance(ctx context.Context, wallet Wallet) (float64, error)
	IsolatedMarginQuoteBalance(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, order Order) (Fill, error)
	BorrowAsset(ctx context.Context, symbol, asset string, quantity float64) error
	RepayLoan(ctx context.Context, symbol, asset string, quantity float64) error
	Transfer(ctx context.Context, symbol string, from, to Wallet, asset string, amount float64) error
	TradableSymbols(ctx context.Context) ([]string, error)
}
