// Package market provides the pricing feed: a matched (spot, futures) quote
// pair for a symbol, or nothing at all.
package market

import (
	"context"
	"fmt"
	"time"

	"basis-arb-bot/internal/gateway"

	"go.uber.org/zap"
)

type Quote struct {
	Symbol       string
	SpotPrice    float64
	FuturesPrice float64
	ObservedAt   time.Time
}

// PriceCache is an optional low-latency price source; see stream.Book.
type PriceCache interface {
	Mid(symbol string) (float64, bool)
}

type Feed struct {
	gw           gateway.MarketGateway
	spotCache    PriceCache
	futuresCache PriceCache
	log          *zap.Logger
	now          func() time.Time
}

func NewFeed(gw gateway.MarketGateway, log *zap.Logger) *Feed {
	return &Feed{gw: gw, log: log, now: time.Now}
}

// WithCaches attaches websocket price caches; the feed still falls back to
// the gateway when an entry is missing or stale.
func (f *Feed) WithCaches(spot, futures PriceCache) *Feed {
	f.spotCache = spot
	f.futuresCache = futures
	return f
}

// Quote fetches both legs. If either leg is unavailable the whole quote is
// unavailable: a spread must never be computed from half a pair.
func (f *Feed) Quote(ctx context.Context, symbol string) (Quote, error) {
	spot, err := f.leg(ctx, symbol, f.spotCache, f.gw.SpotPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("spot leg: %w", err)
	}
	futures, err := f.leg(ctx, symbol, f.futuresCache, f.gw.FuturesPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("futures leg: %w", err)
	}
	return Quote{Symbol: symbol, SpotPrice: spot, FuturesPrice: futures, ObservedAt: f.now()}, nil
}

func (f *Feed) leg(ctx context.Context, symbol string, cache PriceCache, fetch func(context.Context, string) (float64, error)) (float64, error) {
	if cache != nil {
		if mid, ok := cache.Mid(symbol); ok && mid > 0 {
			return mid, nil
		}
	}
	price, err := fetch(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price %v for %s: %w", price, symbol, gateway.ErrUnavailable)
	}
	return price, nil
}
