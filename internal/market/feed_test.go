package market

import (
	"context"
	"errors"
	"testing"

	"basis-arb-bot/internal/gateway"

	"go.uber.org/zap"
)

type fakePrices struct {
	gateway.MarketGateway
	spot       float64
	spotErr    error
	futures    float64
	futuresErr error
}

func (f *fakePrices) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	return f.spot, f.spotErr
}

func (f *fakePrices) FuturesPrice(ctx context.Context, symbol string) (float64, error) {
	return f.futures, f.futuresErr
}

type staticCache struct {
	mid float64
	ok  bool
}

func (c staticCache) Mid(string) (float64, bool) { return c.mid, c.ok }

func TestQuoteRequiresBothLegs(t *testing.T) {
	gw := &fakePrices{spot: 100, futuresErr: gateway.ErrUnavailable}
	feed := NewFeed(gw, zap.NewNop())
	if _, err := feed.Quote(context.Background(), "BTCUSDT"); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected unavailable quote, got %v", err)
	}

	gw.futuresErr = nil
	gw.futures = 100.05
	quote, err := feed.Quote(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.SpotPrice != 100 || quote.FuturesPrice != 100.05 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.ObservedAt.IsZero() {
		t.Fatal("quote must carry an observation time")
	}
}

func TestQuotePrefersFreshCache(t *testing.T) {
	gw := &fakePrices{spotErr: errors.New("rest down"), futures: 100.05}
	feed := NewFeed(gw, zap.NewNop()).WithCaches(staticCache{mid: 100, ok: true}, nil)
	quote, err := feed.Quote(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("cache should have covered the spot leg: %v", err)
	}
	if quote.SpotPrice != 100 {
		t.Fatalf("unexpected spot price: %v", quote.SpotPrice)
	}
}

func TestQuoteFallsBackWhenCacheStale(t *testing.T) {
	gw := &fakePrices{spot: 101, futures: 102}
	feed := NewFeed(gw, zap.NewNop()).WithCaches(staticCache{ok: false}, staticCache{ok: false})
	quote, err := feed.Quote(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.SpotPrice != 101 || quote.FuturesPrice != 102 {
		t.Fatalf("expected REST fallback, got %+v", quote)
	}
}

func TestQuoteRejectsNonPositivePrice(t *testing.T) {
	gw := &fakePrices{spot: 0, futures: 100}
	feed := NewFeed(gw, zap.NewNop())
	if _, err := feed.Quote(context.Background(), "BTCUSDT"); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected unavailable for zero price, got %v", err)
	}
}
