package gateway

import (
	"context"

	"go.uber.org/zap"
)

// Retrying decorates a MarketGateway with the retry policy. It is the only
// path the engine uses to reach the exchange.
type Retrying struct {
	next   MarketGateway
	policy RetryPolicy
	log    *zap.Logger
}

func NewRetrying(next MarketGateway, policy RetryPolicy, log *zap.Logger) *Retrying {
	return &Retrying{next: next, policy: policy, log: log}
}

func (r *Retrying) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := r.do(ctx, "spot price "+symbol, func() error {
		var err error
		price, err = r.next.SpotPrice(ctx, symbol)
		return err
	})
	return price, err
}

func (r *Retrying) FuturesPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := r.do(ctx, "futures price "+symbol, func() error {
		var err error
		price, err = r.next.FuturesPrice(ctx, symbol)
		return err
	})
	return price, err
}

func (r *Retrying) LotStepSize(ctx context.Context, symbol string, market MarketType) (float64, error) {
	var step float64
	err := r.do(ctx, "lot step "+symbol, func() error {
		var err error
		step, err = r.next.LotStepSize(ctx, symbol, market)
		return err
	})
	return step, err
}

func (r *Retrying) AvailableBalance(ctx context.Context, wallet Wallet) (float64, error) {
	var balance float64
	err := r.do(ctx, "available balance "+string(wallet), func() error {
		var err error
		balance, err = r.next.AvailableBalance(ctx, wallet)
		return err
	})
	return balance, err
}

func (r *Retrying) IsolatedMarginQuoteBalance(ctx context.Context, symbol string) (float64, error) {
	var balance float64
	err := r.do(ctx, "isolated margin balance "+symbol, func() error {
		var err error
		balance, err = r.next.IsolatedMarginQuoteBalance(ctx, symbol)
		return err
	})
	return balance, err
}

func (r *Retrying) PlaceMarketOrder(ctx context.Context, order Order) (Fill, error) {
	var fill Fill
	err := r.do(ctx, "place order "+order.Symbol, func() error {
		var err error
		fill, err = r.next.PlaceMarketOrder(ctx, order)
		return err
	})
	return fill, err
}

func (r *Retrying) BorrowAsset(ctx context.Context, symbol, asset string, quantity float64) error {
	return r.do(ctx, "borrow "+asset, func() error {
		return r.next.BorrowAsset(ctx, symbol, asset, quantity)
	})
}

func (r *Retrying) RepayLoan(ctx context.Context, symbol, asset string, quantity float64) error {
	return r.do(ctx, "repay "+asset, func() error {
		return r.next.RepayLoan(ctx, symbol, asset, quantity)
	})
}

func (r *Retrying) Transfer(ctx context.Context, symbol string, from, to Wallet, asset string, amount float64) error {
	return r.do(ctx, "transfer "+string(from)+"->"+string(to), func() error {
		return r.next.Transfer(ctx, symbol, from, to, asset, amount)
	})
}

func (r *Retrying) TradableSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := r.do(ctx, "tradable symbols", func() error {
		var err error
		symbols, err = r.next.TradableSymbols(ctx)
		return err
	})
	return symbols, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	err := r.policy.Do(ctx, op, fn)
	if err != nil && r.log != nil {
		r.log.Warn("gateway call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}
