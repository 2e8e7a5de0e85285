package exec

import (
	"context"
	"sync"
	"testing"

	"basis-arb-bot/internal/gateway"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type mockGateway struct {
	mu    sync.Mutex
	calls int
	fill  gateway.Fill
}

func (m *mockGateway) PlaceMarketOrder(ctx context.Context, order gateway.Order) (gateway.Fill, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	fill := m.fill
	fill.Symbol = order.Symbol
	return fill, nil
}

func TestExecutorIdempotentPlacement(t *testing.T) {
	store := newMemoryStore()
	gw := &mockGateway{fill: gateway.Fill{OrderID: "42", Quantity: 0.5, Price: 100}}
	executor := New(gw, store, zap.NewNop())

	ctx := context.Background()
	order := gateway.Order{Symbol: "BTCUSDT", Side: gateway.SideBuy, Quantity: 0.5, Market: gateway.MarketMargin, ClientOrderID: "open-1-cash"}

	fill1, err := executor.Place(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fill2, err := executor.Place(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill1.OrderID != fill2.OrderID {
		t.Fatalf("expected identical fills, got %q and %q", fill1.OrderID, fill2.OrderID)
	}
	if gw.calls != 1 {
		t.Fatalf("expected a single exchange call, got %d", gw.calls)
	}
}

func TestExecutorSurvivesRestartViaStore(t *testing.T) {
	store := newMemoryStore()
	gw := &mockGateway{fill: gateway.Fill{OrderID: "42", Quantity: 0.5, Price: 100}}
	ctx := context.Background()
	order := gateway.Order{Symbol: "BTCUSDT", Side: gateway.SideBuy, Quantity: 0.5, ClientOrderID: "open-1-cash"}

	if _, err := New(gw, store, zap.NewNop()).Place(ctx, order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Fresh executor, same durable store: still no second exchange call.
	fill, err := New(gw, store, zap.NewNop()).Place(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.OrderID != "42" {
		t.Fatalf("unexpected fill: %+v", fill)
	}
	if gw.calls != 1 {
		t.Fatalf("expected a single exchange call across restarts, got %d", gw.calls)
	}
}

func TestExecutorNoClientIDBypassesDeDup(t *testing.T) {
	gw := &mockGateway{fill: gateway.Fill{OrderID: "7"}}
	executor := New(gw, newMemoryStore(), zap.NewNop())
	ctx := context.Background()
	order := gateway.Order{Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 1}
	for i := 0; i < 2; i++ {
		if _, err := executor.Place(ctx, order); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if gw.calls != 2 {
		t.Fatalf("expected two calls without client id, got %d", gw.calls)
	}
}
