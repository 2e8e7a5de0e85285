package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"basis-arb-bot/internal/exec"
	"basis-arb-bot/internal/gateway"
	"basis-arb-bot/internal/market"
	"basis-arb-bot/internal/store"
)

type fakeGateway struct {
	mu          sync.Mutex
	spot        map[string]float64
	futures     map[string]float64
	spotErr     error
	futuresFail bool
	orders      []gateway.Order
	borrows     []float64
	repays      []float64
	transfers   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		spot:    make(map[string]float64),
		futures: make(map[string]float64),
	}
}

func (f *fakeGateway) setPrices(symbol string, spot, futures float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spot[symbol] = spot
	f.futures[symbol] = futures
}

func (f *fakeGateway) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spotErr != nil {
		return 0, f.spotErr
	}
	return f.spot[symbol], nil
}

func (f *fakeGateway) FuturesPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.futures[symbol], nil
}

func (f *fakeGateway) LotStepSize(ctx context.Context, symbol string, mt gateway.MarketType) (float64, error) {
	return 0.001, nil
}

func (f *fakeGateway) AvailableBalance(ctx context.Context, wallet gateway.Wallet) (float64, error) {
	return 5000, nil
}

func (f *fakeGateway) IsolatedMarginQuoteBalance(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, order gateway.Order) (gateway.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.futuresFail && order.Market == gateway.MarketFutures {
		return gateway.Fill{}, errors.New("insufficient margin")
	}
	f.orders = append(f.orders, order)
	price := f.spot[order.Symbol]
	if order.Market == gateway.MarketFutures {
		price = f.futures[order.Symbol]
	}
	return gateway.Fill{
		OrderID:  order.ClientOrderID,
		Symbol:   order.Symbol,
		Quantity: order.Quantity,
		Price:    price,
	}, nil
}

func (f *fakeGateway) BorrowAsset(ctx context.Context, symbol, asset string, quantity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.borrows = append(f.borrows, quantity)
	return nil
}

func (f *fakeGateway) RepayLoan(ctx context.Context, symbol, asset string, quantity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repays = append(f.repays, quantity)
	return nil
}

func (f *fakeGateway) Transfer(ctx context.Context, symbol string, from, to gateway.Wallet, asset string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers++
	return nil
}

func (f *fakeGateway) TradableSymbols(ctx context.Context) ([]string, error) {
	return []string{"BTCUSDT", "ETHUSDT"}, nil
}

func (f *fakeGateway) placedOrders() []gateway.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Order, len(f.orders))
	copy(out, f.orders)
	return out
}

func newTestTrader(t *testing.T, gw *fakeGateway, st *store.Memory, simulated bool) *Trader {
	t.Helper()
	log := zap.NewNop()
	ledger := NewLedger(st, gw, log, true, 1000)
	if err := ledger.Initialize(context.Background()); err != nil {
		t.Fatalf("ledger init: %v", err)
	}
	cfg := TraderConfig{
		SpreadThresholdPercent: 0.03,
		RiskFraction:           1.0,
		MinPositionNotional:    10,
		MarginFeeRate:          0.00075,
		FuturesFeeRate:         0.00045,
		MaxTradeDuration:       30 * time.Minute,
	}
	return NewTrader(st, market.NewFeed(gw, log), gw, exec.New(gw, nil, log), ledger, nil, nil, log, cfg, simulated)
}

func TestTraderOpensOnWideSpread(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.05)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)
	ctx := context.Background()

	if err := trader.EvaluateSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	trades := st.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	trade := trades[0]
	if trade.Side != SideLong {
		t.Fatalf("positive spread hedges with a long cash leg, got %s", trade.Side)
	}
	if trade.EntryPrice != 100 {
		t.Fatalf("expected entry at spot 100, got %v", trade.EntryPrice)
	}
	// 1000 * 1.0 / 2 = 500 risked at price 100.
	if trade.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %v", trade.Quantity)
	}

	opp, ok := st.Opportunity("BTCUSDT")
	if !ok {
		t.Fatalf("opportunity row missing")
	}
	if opp.Action != string(ActionShortBasis) {
		t.Fatalf("expected SHORT_BASIS, got %s", opp.Action)
	}
	if !opp.TradeExecuted || opp.OpenTradeID != trade.ID {
		t.Fatalf("opportunity should reference the opened trade: %+v", opp)
	}
	// Simulated mode never touches the execution surface.
	if len(gw.placedOrders()) != 0 || gw.transfers != 0 {
		t.Fatalf("simulated open must not place orders")
	}
}

func TestTraderOnePositionPerSymbol(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.05)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := trader.EvaluateSymbol(ctx, "BTCUSDT"); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}
	if got := len(st.Trades()); got != 1 {
		t.Fatalf("expected a single open position, got %d", got)
	}
	opp, _ := st.Opportunity("BTCUSDT")
	if opp.TradeExecuted {
		t.Fatalf("re-evaluation with an open position must not claim a new trade")
	}
}

func TestTraderHoldInsideBand(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.01)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)

	if err := trader.EvaluateSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(st.Trades()) != 0 {
		t.Fatalf("spread inside the band must not trade")
	}
	opp, _ := st.Opportunity("BTCUSDT")
	if opp.Action != string(ActionHold) {
		t.Fatalf("expected HOLD, got %s", opp.Action)
	}
}

func TestTraderSkipsUnavailableQuote(t *testing.T) {
	gw := newFakeGateway()
	gw.spotErr = gateway.ErrUnavailable
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)

	if err := trader.EvaluateSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unavailable quote is a skip, not a failure: %v", err)
	}
	if _, ok := st.Opportunity("BTCUSDT"); ok {
		t.Fatalf("skipped evaluation must not record an opportunity")
	}
}

func TestTraderClosesOnReversalAndMovesLedgerOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.05)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)
	ctx := context.Background()

	if err := trader.EvaluateSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// Spread collapses through zero: the position is done.
	gw.setPrices("BTCUSDT", 100, 99.9)
	if err := trader.CheckOpenTrades(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	trades := st.Trades()
	if len(trades) != 1 || !trades[0].Closed {
		t.Fatalf("expected the position closed, got %+v", trades)
	}
	closed := trades[0]
	if closed.ClosePrice != 100 {
		t.Fatalf("expected exit at spot 100, got %v", closed.ClosePrice)
	}
	// 100*5*(1-0.00075) - 100*5*(1+0.00075) = -0.75
	if math.Abs(closed.Profit-(-0.75)) > 1e-9 {
		t.Fatalf("expected profit -0.75, got %v", closed.Profit)
	}

	snaps := st.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected seed plus one movement, got %d snapshots", len(snaps))
	}
	if math.Abs(snaps[1].CurrentBalance-999.25) > 1e-9 {
		t.Fatalf("expected balance 999.25, got %v", snaps[1].CurrentBalance)
	}

	// A second pass finds nothing open and moves nothing.
	if err := trader.CheckOpenTrades(ctx); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if got := len(st.Snapshots()); got != 2 {
		t.Fatalf("close must move the ledger exactly once, got %d snapshots", got)
	}
}

func TestTraderClosesOnTimeout(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.05)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)
	ctx := context.Background()

	if err := trader.EvaluateSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// Spread still wide, but the clock ran out.
	trader.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if err := trader.CheckOpenTrades(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if trades := st.Trades(); !trades[0].Closed {
		t.Fatalf("expected timeout close")
	}
}

func TestTraderDefersCloseOnMissingQuote(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.05)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, true)
	ctx := context.Background()

	if err := trader.EvaluateSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	gw.mu.Lock()
	gw.spotErr = gateway.ErrUnavailable
	gw.mu.Unlock()
	trader.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if err := trader.CheckOpenTrades(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if trades := st.Trades(); trades[0].Closed {
		t.Fatalf("a position without a quote must stay open")
	}
}

func TestTraderLiveOpenUnwindsCashLegOnHedgeFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("BTCUSDT", 100, 100.05)
	gw.futuresFail = true
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, false)
	ctx := context.Background()

	if err := trader.EvaluateSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if got := len(st.Trades()); got != 0 {
		t.Fatalf("a half-open hedge must not be recorded, got %d trades", got)
	}
	orders := gw.placedOrders()
	if len(orders) != 2 {
		t.Fatalf("expected cash leg plus unwind, got %d orders", len(orders))
	}
	if orders[0].Side != gateway.SideBuy || orders[1].Side != gateway.SideSell {
		t.Fatalf("unwind must reverse the cash leg: %+v", orders)
	}
	if orders[0].Market != gateway.MarketMargin || orders[1].Market != gateway.MarketMargin {
		t.Fatalf("both legs of the unwind are margin orders: %+v", orders)
	}
	opp, _ := st.Opportunity("BTCUSDT")
	if opp.TradeExecuted {
		t.Fatalf("failed open must not mark the opportunity executed")
	}
}

func TestTraderLiveOpenPlacesBothLegs(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrices("ETHUSDT", 100, 99.9)
	st := store.NewMemory()
	trader := newTestTrader(t, gw, st, false)
	ctx := context.Background()

	if err := trader.EvaluateSymbol(ctx, "ETHUSDT"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	trades := st.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	if trades[0].Side != SideShort {
		t.Fatalf("negative spread hedges with a short cash leg, got %s", trades[0].Side)
	}
	orders := gw.placedOrders()
	if len(orders) != 2 {
		t.Fatalf("expected two legs, got %d", len(orders))
	}
	if orders[0].Market != gateway.MarketMargin || orders[0].Side != gateway.SideSell {
		t.Fatalf("cash leg should be a margin sell: %+v", orders[0])
	}
	if orders[1].Market != gateway.MarketFutures || orders[1].Side != gateway.SideBuy {
		t.Fatalf("hedge leg should be a futures buy: %+v", orders[1])
	}
	if len(gw.borrows) != 1 {
		t.Fatalf("short cash leg requires a borrow, got %d", len(gw.borrows))
	}
	if gw.transfers != 1 {
		t.Fatalf("open must collateralize the margin pair, got %d transfers", gw.transfers)
	}
}
