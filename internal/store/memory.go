package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store with the same semantics as Postgres. Engine
// tests run against it; it is not used in production.
type Memory struct {
	mu            sync.Mutex
	opportunities map[string]Opportunity
	trades        []OpenTrade
	snapshots     []ProfitSnapshot
	nextTradeID   int64
	nextSnapID    int64
}

func NewMemory() *Memory {
	return &Memory{
		opportunities: make(map[string]Opportunity),
		nextTradeID:   1,
		nextSnapID:    1,
	}
}

func (m *Memory) UpsertOpportunity(ctx context.Context, opp Opportunity) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities[opp.Symbol] = opp
	return nil
}

// Opportunity returns the latest projection for a symbol, for assertions.
func (m *Memory) Opportunity(symbol string) (Opportunity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opp, ok := m.opportunities[symbol]
	return opp, ok
}

func (m *Memory) HasOpenTrade(ctx context.Context, symbol string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, trade := range m.trades {
		if trade.Symbol == symbol && !trade.Closed {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertOpenTrade(ctx context.Context, trade OpenTrade) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	trade.ID = m.nextTradeID
	m.nextTradeID++
	m.trades = append(m.trades, trade)
	return trade.ID, nil
}

func (m *Memory) OpenTrades(ctx context.Context) ([]OpenTrade, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []OpenTrade
	for _, trade := range m.trades {
		if !trade.Closed {
			open = append(open, trade)
		}
	}
	return open, nil
}

func (m *Memory) CloseTrade(ctx context.Context, id int64, closePrice float64, closedAt time.Time, profit float64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.trades {
		if m.trades[i].ID == id && !m.trades[i].Closed {
			m.trades[i].ClosePrice = closePrice
			m.trades[i].TimestampClose = closedAt
			m.trades[i].Profit = profit
			m.trades[i].Closed = true
			return nil
		}
	}
	return ErrTradeAlreadyClosed
}

// Trades returns a copy of every trade row, for assertions.
func (m *Memory) Trades() []OpenTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OpenTrade, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *Memory) LatestSnapshot(ctx context.Context) (ProfitSnapshot, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return ProfitSnapshot{}, false, nil
	}
	return m.snapshots[len(m.snapshots)-1], true, nil
}

func (m *Memory) EarliestSnapshotSince(ctx context.Context, cutoff time.Time) (ProfitSnapshot, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range m.snapshots {
		if !snap.Timestamp.Before(cutoff) {
			return snap, true, nil
		}
	}
	return ProfitSnapshot{}, false, nil
}

func (m *Memory) AppendSnapshot(ctx context.Context, snap ProfitSnapshot) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ID = m.nextSnapID
	m.nextSnapID++
	m.snapshots = append(m.snapshots, snap)
	return nil
}

// Snapshots returns a copy of the ledger rows, for assertions.
func (m *Memory) Snapshots() []ProfitSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProfitSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

func (m *Memory) Close() error { return nil }
