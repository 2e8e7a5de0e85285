package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"basis-arb-bot/internal/gateway"
	"basis-arb-bot/internal/store"
)

// Ledger tracks the account balance and writes an append-only profit
// snapshot per recorded delta. In simulated mode the latest snapshot is
// the balance; in live mode balances come from the exchange wallets and
// the snapshots only track realized profit.
type Ledger struct {
	store           store.Store
	gw              gateway.MarketGateway
	log             *zap.Logger
	simulated       bool
	startingBalance float64
	now             func() time.Time
}

func NewLedger(st store.Store, gw gateway.MarketGateway, log *zap.Logger, simulated bool, startingBalance float64) *Ledger {
	return &Ledger{
		store:           st,
		gw:              gw,
		log:             log.Named("ledger"),
		simulated:       simulated,
		startingBalance: startingBalance,
		now:             time.Now,
	}
}

// Initialize seeds the ledger with a first snapshot when none exists. Live
// mode seeds from the spot wallet so the trailing windows have a baseline.
func (l *Ledger) Initialize(ctx context.Context) error {
	_, found, err := l.store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("read ledger head: %w", err)
	}
	if found {
		return nil
	}
	balance := l.startingBalance
	if !l.simulated {
		balance, err = l.gw.AvailableBalance(ctx, gateway.WalletSpot)
		if err != nil {
			return fmt.Errorf("seed balance from wallet: %w", err)
		}
	}
	snap := store.ProfitSnapshot{
		Timestamp:      l.now(),
		CurrentBalance: balance,
	}
	if err := l.store.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}
	l.log.Info("ledger seeded", zap.Float64("balance", balance))
	return nil
}

// CurrentBalance is the capital available for sizing a new position on the
// given market. Simulated mode reads the ledger head; live mode asks the
// exchange wallet that funds the leg.
func (l *Ledger) CurrentBalance(ctx context.Context, market gateway.MarketType) (float64, error) {
	if l.simulated {
		snap, found, err := l.store.LatestSnapshot(ctx)
		if err != nil {
			return 0, err
		}
		if !found {
			return l.startingBalance, nil
		}
		return snap.CurrentBalance, nil
	}
	wallet := gateway.WalletSpot
	if market == gateway.MarketFutures {
		wallet = gateway.WalletFutures
	}
	return l.gw.AvailableBalance(ctx, wallet)
}

// RecordDelta appends a snapshot reflecting a realized profit (or loss,
// or zero for a heartbeat row). The balance never goes negative and the
// trailing windows compare against the earliest snapshot inside each
// window, reporting zero when the window has no baseline yet.
func (l *Ledger) RecordDelta(ctx context.Context, delta float64) error {
	head, found, err := l.store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("read ledger head: %w", err)
	}
	prev := l.startingBalance
	if found {
		prev = head.CurrentBalance
	}
	balance := prev + delta
	if balance < 0 {
		balance = 0
	}

	profit := balance - l.startingBalance
	var percent float64
	if l.startingBalance > 0 {
		percent = profit / l.startingBalance * 100
	}

	now := l.now()
	snap := store.ProfitSnapshot{
		Timestamp:      now,
		CurrentBalance: balance,
		ProfitUSDT:     roundTo(profit, quantityDecimals),
		ProfitPercent:  roundTo(percent, quantityDecimals),
		DailyProfit:    l.windowProfit(ctx, balance, now.Add(-24*time.Hour)),
		WeeklyProfit:   l.windowProfit(ctx, balance, now.Add(-7*24*time.Hour)),
		MonthlyProfit:  l.windowProfit(ctx, balance, now.Add(-30*24*time.Hour)),
	}
	if err := l.store.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (l *Ledger) windowProfit(ctx context.Context, balance float64, cutoff time.Time) float64 {
	base, found, err := l.store.EarliestSnapshotSince(ctx, cutoff)
	if err != nil {
		l.log.Warn("window baseline read failed", zap.Error(err))
		return 0
	}
	if !found {
		return 0
	}
	return roundTo(balance-base.CurrentBalance, quantityDecimals)
}
