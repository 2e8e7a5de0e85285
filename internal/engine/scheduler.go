package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"basis-arb-bot/internal/metrics"
	"basis-arb-bot/internal/state"
)

// Scheduler drives the polling loop: evaluate every symbol, check open
// positions, pace the venue with inter-symbol and inter-cycle delays, and
// checkpoint progress so cycle numbering survives restarts.
type Scheduler struct {
	trader           *Trader
	ledger           *Ledger
	kv               state.Store
	metrics          *metrics.Metrics
	log              *zap.Logger
	symbols          []string
	interSymbolDelay time.Duration
	interCycleDelay  time.Duration
	now              func() time.Time

	cycle uint64
}

func NewScheduler(trader *Trader, ledger *Ledger, kv state.Store, m *metrics.Metrics, log *zap.Logger, symbols []string, interSymbolDelay, interCycleDelay time.Duration) *Scheduler {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Scheduler{
		trader:           trader,
		ledger:           ledger,
		kv:               kv,
		metrics:          m,
		log:              log.Named("scheduler"),
		symbols:          symbols,
		interSymbolDelay: interSymbolDelay,
		interCycleDelay:  interCycleDelay,
		now:              time.Now,
	}
}

// Run loops cycles until the context is canceled. Per-symbol and per-cycle
// errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if ckpt, ok, err := state.LoadCycleCheckpoint(ctx, s.kv); err != nil {
		s.log.Warn("checkpoint load failed, starting from zero", zap.Error(err))
	} else if ok {
		s.cycle = ckpt.Cycle
		s.log.Info("resuming from checkpoint",
			zap.Uint64("cycle", ckpt.Cycle), zap.Time("completed_at", ckpt.CompletedAt))
	}

	for {
		if err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("cycle failed", zap.Uint64("cycle", s.cycle), zap.Error(err))
		}
		if err := sleep(ctx, s.interCycleDelay); err != nil {
			return err
		}
	}
}

// RunCycle runs one full pass over the symbol universe.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	for _, symbol := range s.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.trader.EvaluateSymbol(ctx, symbol); err != nil {
			s.log.Error("evaluation failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if err := s.trader.CheckOpenTrades(ctx); err != nil {
			s.log.Error("open-trade check failed", zap.Error(err))
		}
		if err := sleep(ctx, s.interSymbolDelay); err != nil {
			return err
		}
	}

	// One more pass so positions are monitored even with an empty universe.
	if err := s.trader.CheckOpenTrades(ctx); err != nil {
		s.log.Error("open-trade check failed", zap.Error(err))
	}
	if err := s.ledger.RecordDelta(ctx, 0); err != nil {
		s.log.Warn("ledger heartbeat failed", zap.Error(err))
	}

	s.cycle++
	s.metrics.CyclesCompleted.Inc()
	ckpt := state.CycleCheckpoint{
		Cycle:       s.cycle,
		CompletedAt: s.now(),
		Symbols:     len(s.symbols),
	}
	if err := state.SaveCycleCheckpoint(ctx, s.kv, ckpt); err != nil {
		s.log.Warn("checkpoint save failed", zap.Error(err))
	}
	s.log.Debug("cycle complete", zap.Uint64("cycle", s.cycle), zap.Int("symbols", len(s.symbols)))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
