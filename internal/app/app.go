// Package app wires configuration into the running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"basis-arb-bot/internal/alerts"
	"basis-arb-bot/internal/binance"
	"basis-arb-bot/internal/binance/stream"
	"basis-arb-bot/internal/config"
	"basis-arb-bot/internal/engine"
	"basis-arb-bot/internal/exec"
	"basis-arb-bot/internal/gateway"
	"basis-arb-bot/internal/market"
	"basis-arb-bot/internal/metrics"
	"basis-arb-bot/internal/state/sqlite"
	"basis-arb-bot/internal/store"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *store.Postgres
	kv      *sqlite.Store
	gw      gateway.MarketGateway
	feed    *market.Feed
	ledger  *engine.Ledger
	trader  *engine.Trader
	metrics *metrics.Prometheus

	spotStream    *stream.Client
	futuresStream *stream.Client
	spotBook      *stream.Book
	futuresBook   *stream.Book
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	pg, err := store.NewPostgres(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	kv, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	simulated := cfg.Engine.Simulated()
	if !simulated && (apiKey == "" || apiSecret == "") {
		return nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required in live mode")
	}

	client := binance.New(cfg.REST.SpotBaseURL, cfg.REST.FuturesBaseURL, cfg.REST.Timeout, apiKey, apiSecret, log)
	gw := gateway.NewRetrying(client, gateway.DefaultRetryPolicy(), log)

	feed := market.NewFeed(gw, log)
	app := &App{
		cfg:    cfg,
		log:    log,
		store:  pg,
		kv:     kv,
		gw:     gw,
		feed:   feed,
		ledger: engine.NewLedger(pg, gw, log, simulated, cfg.Engine.StartingBalance),
	}

	if cfg.WS.Enabled {
		app.spotBook = stream.NewBook(cfg.WS.MaxQuoteAge)
		app.futuresBook = stream.NewBook(cfg.WS.MaxQuoteAge)
		app.spotStream = stream.NewClient(cfg.WS.SpotURL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log.Named("spot-ws"))
		app.futuresStream = stream.NewClient(cfg.WS.FuturesURL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log.Named("futures-ws"))
		app.spotStream.SubscribeBookTicker(cfg.Engine.Symbols)
		app.futuresStream.SubscribeBookTicker(cfg.Engine.Symbols)
		feed.WithCaches(app.spotBook, app.futuresBook)
	}

	var notifier engine.Notifier
	if cfg.Telegram.Enabled {
		notifier = alerts.NewTelegram(cfg.Telegram, log)
	}

	prom := metrics.NewPrometheus()
	executor := exec.New(gw, kv, log)
	app.metrics = prom
	app.trader = engine.NewTrader(pg, feed, gw, executor, app.ledger, notifier, prom.Metrics, log, engine.TraderConfig{
		SpreadThresholdPercent: cfg.Engine.SpreadThresholdPercent,
		RiskFraction:           cfg.Engine.RiskFraction,
		MinPositionNotional:    cfg.Engine.MinPositionNotional,
		MarginFeeRate:          cfg.Engine.MarginFeeRate,
		FuturesFeeRate:         cfg.Engine.FuturesFeeRate,
		MaxTradeDuration:       cfg.Engine.MaxTradeDuration,
	}, simulated)
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.kv.Close()

	if a.cfg.Metrics.Enabled {
		a.serveMetrics(ctx)
	}
	if a.cfg.WS.Enabled {
		go a.runStream(ctx, a.spotStream, a.spotBook)
		go a.runStream(ctx, a.futuresStream, a.futuresBook)
	}

	symbols, err := a.resolveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("resolve symbols: %w", err)
	}
	a.log.Info("starting",
		zap.String("mode", a.cfg.Engine.Mode),
		zap.Strings("symbols", symbols),
		zap.Float64("spread_threshold_percent", a.cfg.Engine.SpreadThresholdPercent))

	if err := a.ledger.Initialize(ctx); err != nil {
		return err
	}

	sched := engine.NewScheduler(a.trader, a.ledger, a.kv, a.metrics.Metrics, a.log,
		symbols, a.cfg.Engine.InterSymbolDelay, a.cfg.Engine.InterCycleDelay)
	return sched.Run(ctx)
}

// resolveSymbols intersects the configured universe with what the venue
// actually lists, preserving configured order.
func (a *App) resolveSymbols(ctx context.Context) ([]string, error) {
	listed, err := a.gw.TradableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	tradable := make(map[string]struct{}, len(listed))
	for _, s := range listed {
		tradable[s] = struct{}{}
	}
	var symbols []string
	for _, s := range a.cfg.Engine.Symbols {
		if _, ok := tradable[s]; ok {
			symbols = append(symbols, s)
		} else {
			a.log.Warn("symbol not tradable, dropped", zap.String("symbol", s))
		}
	}
	if len(symbols) == 0 {
		return nil, errors.New("no configured symbol is tradable")
	}
	return symbols, nil
}

func (a *App) runStream(ctx context.Context, client *stream.Client, book *stream.Book) {
	if err := client.Run(ctx, book.Handler()); err != nil && ctx.Err() == nil {
		a.log.Error("stream terminated", zap.Error(err))
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
}
