// Command verify is a preflight check: it loads configuration, pings the
// relational store, pulls one spot/futures quote, and prints the spread the
// engine would act on. With -symbol it checks a single symbol; otherwise the
// first configured symbol is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"basis-arb-bot/internal/binance"
	"basis-arb-bot/internal/config"
	"basis-arb-bot/internal/engine"
	"basis-arb-bot/internal/gateway"
	"basis-arb-bot/internal/logging"
	"basis-arb-bot/internal/market"
	"basis-arb-bot/internal/store"
)

const defaultVerifyEnvFile = ".env"

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "symbol to quote (defaults to the first configured symbol)")
	skipStore := flag.Bool("skip-store", false, "skip the relational store check")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !*skipStore {
		pg, err := store.NewPostgres(cfg.Store)
		if err != nil {
			fatal(fmt.Errorf("store check failed: %w", err))
		}
		defer pg.Close()
		fmt.Println("store: ok")
	}

	target := strings.TrimSpace(*symbol)
	if target == "" {
		if len(cfg.Engine.Symbols) == 0 {
			fatal(errors.New("no symbol configured and none given"))
		}
		target = cfg.Engine.Symbols[0]
	}

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	client := binance.New(cfg.REST.SpotBaseURL, cfg.REST.FuturesBaseURL, cfg.REST.Timeout, apiKey, apiSecret, log)
	gw := gateway.NewRetrying(client, gateway.DefaultRetryPolicy(), log)
	feed := market.NewFeed(gw, log)

	quote, err := feed.Quote(ctx, target)
	if err != nil {
		fatal(fmt.Errorf("quote %s: %w", target, err))
	}
	spread := engine.SpreadPercent(quote.SpotPrice, quote.FuturesPrice)
	action := engine.Classify(spread, cfg.Engine.SpreadThresholdPercent)
	fmt.Printf("quote: symbol=%s spot=%.8f futures=%.8f spread=%.6f%% action=%s threshold=%.4f%%\n",
		target, quote.SpotPrice, quote.FuturesPrice, spread, action, cfg.Engine.SpreadThresholdPercent)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
