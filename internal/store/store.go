// Package store persists the engine's three record kinds: the per-symbol
// opportunity projection, hedged trade records, and the profit ledger.
package store

import (
	"context"
	"time"
)

// Opportunity is the latest evaluation for a symbol. One live row per
// symbol; upserts supersede prior values.
type Opportunity struct {
	Timestamp     time.Time
	Symbol        string
	SpotPrice     float64
	FuturesPrice  float64
	SpreadPercent float64
	Action        string
	TradeExecuted bool
	OpenTradeID   int64 // zero when no trade was opened
}

// OpenTrade is a hedged position record. Side is the cash-leg direction;
// MarketType names the market the record's prices and fees refer to.
type OpenTrade struct {
	ID             int64
	Symbol         string
	MarketType     string
	Side           string
	EntryPrice     float64
	Quantity       float64
	TimestampOpen  time.Time
	ClosePrice     float64
	TimestampClose time.Time
	Profit         float64
	Closed         bool
}

// ProfitSnapshot is one append-only ledger row. The most recent row by
// insertion order is the canonical simulated balance.
type ProfitSnapshot struct {
	ID             int64
	Timestamp      time.Time
	CurrentBalance float64
	ProfitUSDT     float64
	ProfitPercent  float64
	DailyProfit    float64
	WeeklyProfit   float64
	MonthlyProfit  float64
}

type Store interface {
	UpsertOpportunity(ctx context.Context, opp Opportunity) error
	HasOpenTrade(ctx context.Context, symbol string) (bool, error)
	InsertOpenTrade(ctx context.Context, trade OpenTrade) (int64, error)
	OpenTrades(ctx context.Context) ([]OpenTrade, error)
	CloseTrade(ctx context.Context, id int64, closePrice float64, closedAt time.Time, profit float64) error
	LatestSnapshot(ctx context.Context) (ProfitSnapshot, bool, error)
	EarliestSnapshotSince(ctx context.Context, cutoff time.Time) (ProfitSnapshot, bool, error)
	AppendSnapshot(ctx context.Context, snap ProfitSnapshot) error
	Close() error
}
