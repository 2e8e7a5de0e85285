package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEngineDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Engine.Mode != ModeSimulated {
		t.Fatalf("expected simulated mode default, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.SpreadThresholdPercent != 0.03 {
		t.Fatalf("expected threshold default 0.03, got %v", cfg.Engine.SpreadThresholdPercent)
	}
	if cfg.Engine.RiskFraction != 1.0 {
		t.Fatalf("expected risk fraction default 1.0, got %v", cfg.Engine.RiskFraction)
	}
	if cfg.Engine.MinPositionNotional != 10.0 {
		t.Fatalf("expected min notional default 10, got %v", cfg.Engine.MinPositionNotional)
	}
	if cfg.Engine.StartingBalance != 1000.0 {
		t.Fatalf("expected starting balance default 1000, got %v", cfg.Engine.StartingBalance)
	}
	if cfg.Engine.MaxTradeDuration != 30*time.Minute {
		t.Fatalf("expected max trade duration default 30m, got %v", cfg.Engine.MaxTradeDuration)
	}
	if len(cfg.Engine.Symbols) == 0 {
		t.Fatalf("expected a default symbol universe")
	}
	if cfg.Engine.InterSymbolDelay != 200*time.Millisecond {
		t.Fatalf("expected inter-symbol delay default 200ms, got %v", cfg.Engine.InterSymbolDelay)
	}
	if cfg.Engine.InterCycleDelay != time.Second {
		t.Fatalf("expected inter-cycle delay default 1s, got %v", cfg.Engine.InterCycleDelay)
	}
}

func TestFeeDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Engine.MarginFeeRate != 0.00075 {
		t.Fatalf("expected margin fee default 0.00075, got %v", cfg.Engine.MarginFeeRate)
	}
	if cfg.Engine.FuturesFeeRate != 0.00045 {
		t.Fatalf("expected futures fee default 0.00045, got %v", cfg.Engine.FuturesFeeRate)
	}
}

func TestRESTAndWSDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.REST.SpotBaseURL == "" || cfg.REST.FuturesBaseURL == "" {
		t.Fatalf("expected base URL defaults")
	}
	if cfg.REST.Timeout != 10*time.Second {
		t.Fatalf("expected rest timeout default 10s, got %v", cfg.REST.Timeout)
	}
	if cfg.WS.MaxQuoteAge != 5*time.Second {
		t.Fatalf("expected max quote age default 5s, got %v", cfg.WS.MaxQuoteAge)
	}
}

func TestSimulatedIsTheFallbackMode(t *testing.T) {
	if !(EngineConfig{Mode: ModeSimulated}).Simulated() {
		t.Fatalf("simulated mode not recognized")
	}
	if (EngineConfig{Mode: ModeLive}).Simulated() {
		t.Fatalf("live mode misread as simulated")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{Mode: "paper"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestValidateRejectsRiskFractionOutOfRange(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{RiskFraction: 1.5}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for risk fraction > 1")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"engine:\n" +
		"  mode: live\n" +
		"  spread_threshold_percent: 0.1\n" +
		"  symbols: [\"BTCUSDT\"]\n" +
		"store:\n" +
		"  dsn: postgres://user:pass@db:5432/arb\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Mode != ModeLive {
		t.Fatalf("expected live mode, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.SpreadThresholdPercent != 0.1 {
		t.Fatalf("expected threshold 0.1, got %v", cfg.Engine.SpreadThresholdPercent)
	}
	if len(cfg.Engine.Symbols) != 1 || cfg.Engine.Symbols[0] != "BTCUSDT" {
		t.Fatalf("expected symbol override, got %v", cfg.Engine.Symbols)
	}
	if cfg.Store.DSN != "postgres://user:pass@db:5432/arb" {
		t.Fatalf("expected dsn override, got %q", cfg.Store.DSN)
	}
	// Untouched fields still get defaults.
	if cfg.Engine.RiskFraction != 1.0 {
		t.Fatalf("expected risk fraction default, got %v", cfg.Engine.RiskFraction)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
