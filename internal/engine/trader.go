package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"basis-arb-bot/internal/exec"
	"basis-arb-bot/internal/gateway"
	"basis-arb-bot/internal/market"
	"basis-arb-bot/internal/metrics"
	"basis-arb-bot/internal/store"
)

// defaultLotStep backstops a failed filter lookup so sizing still yields an
// exchange-plausible quantity.
const defaultLotStep = 0.001

const quoteAsset = "USDT"

// Notifier receives human-readable trade notifications. Send failures are
// logged, never propagated into the trade flow.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// TraderConfig is the slice of engine configuration the trader acts on.
type TraderConfig struct {
	SpreadThresholdPercent float64
	RiskFraction           float64
	MinPositionNotional    float64
	MarginFeeRate          float64
	FuturesFeeRate         float64
	MaxTradeDuration       time.Duration
}

// Trader evaluates symbols against the basis spread, opens hedged positions
// when the spread clears the threshold, and closes them on timeout or spread
// reversal. Simulated mode records trades and ledger movements without
// touching the exchange execution surface.
type Trader struct {
	store     store.Store
	feed      *market.Feed
	gw        gateway.MarketGateway
	orders    *exec.Executor
	ledger    *Ledger
	alerts    Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       TraderConfig
	simulated bool
	now       func() time.Time
}

func NewTrader(st store.Store, feed *market.Feed, gw gateway.MarketGateway, orders *exec.Executor, ledger *Ledger, alerts Notifier, m *metrics.Metrics, log *zap.Logger, cfg TraderConfig, simulated bool) *Trader {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Trader{
		store:     st,
		feed:      feed,
		gw:        gw,
		orders:    orders,
		ledger:    ledger,
		alerts:    alerts,
		metrics:   m,
		log:       log.Named("trader"),
		cfg:       cfg,
		simulated: simulated,
		now:       time.Now,
	}
}

// EvaluateSymbol runs one spread evaluation for a symbol and persists the
// opportunity projection. A symbol with an unavailable quote is skipped, not
// failed: the next cycle retries it.
func (t *Trader) EvaluateSymbol(ctx context.Context, symbol string) error {
	quote, err := t.feed.Quote(ctx, symbol)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			t.metrics.EvaluationsSkipped.Inc()
			t.log.Warn("quote unavailable, skipping", zap.String("symbol", symbol), zap.Error(err))
			return nil
		}
		return err
	}

	spread := SpreadPercent(quote.SpotPrice, quote.FuturesPrice)
	action := Classify(spread, t.cfg.SpreadThresholdPercent)

	var tradeID int64
	if action != ActionHold {
		hasOpen, err := t.store.HasOpenTrade(ctx, symbol)
		if err != nil {
			return fmt.Errorf("open-trade check %s: %w", symbol, err)
		}
		if !hasOpen {
			tradeID, err = t.openHedge(ctx, symbol, action, quote)
			if err != nil {
				t.log.Error("open failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}

	opp := store.Opportunity{
		Timestamp:     quote.ObservedAt,
		Symbol:        symbol,
		SpotPrice:     quote.SpotPrice,
		FuturesPrice:  quote.FuturesPrice,
		SpreadPercent: spread,
		Action:        string(action),
		TradeExecuted: tradeID != 0,
		OpenTradeID:   tradeID,
	}
	if err := t.store.UpsertOpportunity(ctx, opp); err != nil {
		return fmt.Errorf("record opportunity %s: %w", symbol, err)
	}
	return nil
}

// openHedge sizes and opens both legs of a hedged position, returning the
// trade record id. A zero id with nil error means sizing declined the trade.
func (t *Trader) openHedge(ctx context.Context, symbol string, action Action, quote market.Quote) (int64, error) {
	balance, err := t.ledger.CurrentBalance(ctx, gateway.MarketMargin)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}

	lotStep, err := t.gw.LotStepSize(ctx, symbol, gateway.MarketSpot)
	if err != nil || lotStep <= 0 {
		t.log.Warn("lot step lookup failed, using default", zap.String("symbol", symbol), zap.Error(err))
		lotStep = defaultLotStep
	}

	quantity := PositionSize(quote.SpotPrice, balance, t.cfg.RiskFraction, t.cfg.MinPositionNotional, lotStep)
	if quantity == 0 {
		t.log.Debug("position below minimum, not trading", zap.String("symbol", symbol), zap.Float64("balance", balance))
		return 0, nil
	}

	side := SideLong
	if action == ActionLongBasis {
		side = SideShort
	}

	if !t.simulated {
		if err := t.executeOpen(ctx, symbol, side, quantity, quote); err != nil {
			return 0, err
		}
	}

	trade := store.OpenTrade{
		Symbol:        symbol,
		MarketType:    string(gateway.MarketMargin),
		Side:          side,
		EntryPrice:    quote.SpotPrice,
		Quantity:      quantity,
		TimestampOpen: t.now(),
	}
	tradeID, err := t.store.InsertOpenTrade(ctx, trade)
	if err != nil {
		return 0, fmt.Errorf("record trade %s: %w", symbol, err)
	}

	t.metrics.TradesOpened.Inc()
	t.notify(ctx, fmt.Sprintf("OPEN %s %s qty=%.8f entry=%.8f spread=%.4f%%",
		symbol, side, quantity, quote.SpotPrice, SpreadPercent(quote.SpotPrice, quote.FuturesPrice)))
	t.log.Info("position opened",
		zap.Int64("trade_id", tradeID),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("quantity", quantity),
		zap.Float64("entry_price", quote.SpotPrice))
	return tradeID, nil
}

// executeOpen places the cash leg then the futures hedge. If the hedge leg
// fails the cash leg is reversed so no naked exposure survives the attempt.
func (t *Trader) executeOpen(ctx context.Context, symbol, side string, quantity float64, quote market.Quote) error {
	asset := baseAsset(symbol)
	nonce := t.now().UnixMilli()

	// Both directions collateralize the isolated margin pair first.
	funding := quantity * quote.SpotPrice
	if err := t.gw.Transfer(ctx, symbol, gateway.WalletSpot, gateway.WalletIsolatedMargin, quoteAsset, funding); err != nil {
		return fmt.Errorf("fund margin wallet: %w", err)
	}

	var cashSide, futuresSide gateway.Side
	if side == SideLong {
		// Futures rich: buy the cash leg, short futures.
		cashSide, futuresSide = gateway.SideBuy, gateway.SideSell
	} else {
		// Futures cheap: borrow the base asset, sell it, long futures.
		cashSide, futuresSide = gateway.SideSell, gateway.SideBuy
		if err := t.gw.BorrowAsset(ctx, symbol, asset, quantity); err != nil {
			return fmt.Errorf("borrow %s: %w", asset, err)
		}
	}

	cashFill, err := t.orders.Place(ctx, gateway.Order{
		Symbol:        symbol,
		Side:          cashSide,
		Quantity:      quantity,
		Market:        gateway.MarketMargin,
		ClientOrderID: orderID(symbol, "open-cash", nonce),
	})
	if err != nil {
		t.metrics.OrdersFailed.Inc()
		return fmt.Errorf("cash leg: %w", err)
	}
	t.metrics.OrdersPlaced.Inc()

	_, err = t.orders.Place(ctx, gateway.Order{
		Symbol:        symbol,
		Side:          futuresSide,
		Quantity:      quantity,
		Market:        gateway.MarketFutures,
		ClientOrderID: orderID(symbol, "open-futures", nonce),
	})
	if err != nil {
		t.metrics.OrdersFailed.Inc()
		t.compensateCashLeg(ctx, symbol, side, cashFill, nonce)
		return fmt.Errorf("futures leg: %w", err)
	}
	t.metrics.OrdersPlaced.Inc()
	return nil
}

// compensateCashLeg unwinds a filled cash leg after the hedge leg failed.
// Best effort: a failure here leaves exposure the operator must resolve, so
// it is logged loudly and alerted.
func (t *Trader) compensateCashLeg(ctx context.Context, symbol, side string, fill gateway.Fill, nonce int64) {
	reverse := gateway.SideSell
	if side == SideShort {
		reverse = gateway.SideBuy
	}
	_, err := t.orders.Place(ctx, gateway.Order{
		Symbol:        symbol,
		Side:          reverse,
		Quantity:      fill.Quantity,
		Market:        gateway.MarketMargin,
		ClientOrderID: orderID(symbol, "unwind-cash", nonce),
	})
	if err == nil && side == SideShort {
		err = t.gw.RepayLoan(ctx, symbol, baseAsset(symbol), fill.Quantity)
	}
	if err != nil {
		t.log.Error("cash leg unwind failed, manual intervention required",
			zap.String("symbol", symbol), zap.Error(err))
		t.notify(ctx, fmt.Sprintf("UNWIND FAILED %s %s qty=%.8f: %v", symbol, side, fill.Quantity, err))
		return
	}
	t.log.Warn("hedge leg failed, cash leg unwound", zap.String("symbol", symbol))
}

// CheckOpenTrades closes every open position whose holding time exceeded the
// limit or whose spread reversed. A position with an unavailable quote is
// left open for the next cycle.
func (t *Trader) CheckOpenTrades(ctx context.Context) error {
	trades, err := t.store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	for _, trade := range trades {
		quote, err := t.feed.Quote(ctx, trade.Symbol)
		if err != nil {
			if errors.Is(err, gateway.ErrUnavailable) {
				t.log.Warn("quote unavailable, close deferred",
					zap.Int64("trade_id", trade.ID), zap.String("symbol", trade.Symbol))
				continue
			}
			return err
		}
		spread := SpreadPercent(quote.SpotPrice, quote.FuturesPrice)
		if !t.shouldClose(trade, spread) {
			continue
		}
		if err := t.closeTrade(ctx, trade, quote); err != nil {
			t.log.Error("close failed", zap.Int64("trade_id", trade.ID),
				zap.String("symbol", trade.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (t *Trader) shouldClose(trade store.OpenTrade, spread float64) bool {
	if t.now().Sub(trade.TimestampOpen) > t.cfg.MaxTradeDuration {
		return true
	}
	switch trade.Side {
	case SideLong:
		// Opened on a positive spread; convergence means it is done.
		return spread <= 0
	case SideShort:
		return spread >= 0
	}
	return false
}

// closeTrade unwinds both legs, records the fee-aware profit once, and moves
// the ledger once. A concurrent close of the same row is a no-op.
func (t *Trader) closeTrade(ctx context.Context, trade store.OpenTrade, quote market.Quote) error {
	exitPrice := quote.SpotPrice

	if !t.simulated {
		// A leg failure on the close side does not block bookkeeping: the
		// record closes at the observed price and the gap is surfaced for
		// manual reconciliation.
		if err := t.executeClose(ctx, trade); err != nil {
			t.log.Error("close execution incomplete, recording anyway",
				zap.Int64("trade_id", trade.ID), zap.String("symbol", trade.Symbol), zap.Error(err))
			t.notify(ctx, fmt.Sprintf("CLOSE GAP %s trade=%d: %v", trade.Symbol, trade.ID, err))
		}
	}

	fee := t.marketFee(trade.MarketType)
	profit := LegProfit(trade.Side, trade.EntryPrice, exitPrice, trade.Quantity, fee, fee)

	closedAt := t.now()
	if err := t.store.CloseTrade(ctx, trade.ID, exitPrice, closedAt, profit); err != nil {
		if errors.Is(err, store.ErrTradeAlreadyClosed) {
			return nil
		}
		return fmt.Errorf("record close: %w", err)
	}
	if err := t.ledger.RecordDelta(ctx, profit); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	t.metrics.TradesClosed.Inc()
	t.notify(ctx, fmt.Sprintf("CLOSE %s %s qty=%.8f exit=%.8f profit=%.8f",
		trade.Symbol, trade.Side, trade.Quantity, exitPrice, profit))
	t.log.Info("position closed",
		zap.Int64("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("profit", profit))
	return nil
}

// executeClose places the inverse legs, repays any borrow, and sweeps the
// freed margin balance back to spot.
func (t *Trader) executeClose(ctx context.Context, trade store.OpenTrade) error {
	asset := baseAsset(trade.Symbol)
	nonce := t.now().UnixMilli()

	var cashSide, futuresSide gateway.Side
	if trade.Side == SideLong {
		cashSide, futuresSide = gateway.SideSell, gateway.SideBuy
	} else {
		cashSide, futuresSide = gateway.SideBuy, gateway.SideSell
	}

	if _, err := t.orders.Place(ctx, gateway.Order{
		Symbol:        trade.Symbol,
		Side:          cashSide,
		Quantity:      trade.Quantity,
		Market:        gateway.MarketMargin,
		ClientOrderID: orderID(trade.Symbol, fmt.Sprintf("close-cash-%d", trade.ID), nonce),
	}); err != nil {
		t.metrics.OrdersFailed.Inc()
		return fmt.Errorf("cash leg: %w", err)
	}
	t.metrics.OrdersPlaced.Inc()

	if trade.Side == SideShort {
		if err := t.gw.RepayLoan(ctx, trade.Symbol, asset, trade.Quantity); err != nil {
			return fmt.Errorf("repay %s: %w", asset, err)
		}
	}

	if _, err := t.orders.Place(ctx, gateway.Order{
		Symbol:        trade.Symbol,
		Side:          futuresSide,
		Quantity:      trade.Quantity,
		Market:        gateway.MarketFutures,
		ClientOrderID: orderID(trade.Symbol, fmt.Sprintf("close-futures-%d", trade.ID), nonce),
	}); err != nil {
		t.metrics.OrdersFailed.Inc()
		return fmt.Errorf("futures leg: %w", err)
	}
	t.metrics.OrdersPlaced.Inc()

	// Sweep whatever quote balance the close freed back to the spot wallet.
	freed, err := t.gw.IsolatedMarginQuoteBalance(ctx, trade.Symbol)
	if err != nil {
		t.log.Warn("margin balance read failed, sweep skipped",
			zap.String("symbol", trade.Symbol), zap.Error(err))
		return nil
	}
	if freed > 0 {
		if err := t.gw.Transfer(ctx, trade.Symbol, gateway.WalletIsolatedMargin, gateway.WalletSpot, quoteAsset, freed); err != nil {
			t.log.Warn("margin sweep failed", zap.String("symbol", trade.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (t *Trader) marketFee(marketType string) float64 {
	if marketType == string(gateway.MarketFutures) {
		return t.cfg.FuturesFeeRate
	}
	return t.cfg.MarginFeeRate
}

func (t *Trader) notify(ctx context.Context, message string) {
	if t.alerts == nil {
		return
	}
	if err := t.alerts.Send(ctx, message); err != nil {
		t.log.Warn("alert delivery failed", zap.Error(err))
	}
}

func baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, quoteAsset)
}

func orderID(symbol, leg string, nonce int64) string {
	return fmt.Sprintf("bab-%s-%s-%d", strings.ToLower(symbol), leg, nonce)
}
