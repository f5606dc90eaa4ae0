package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRADING_MODE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModePaper {
		t.Errorf("mode: got %q, want paper", cfg.Mode)
	}
	if !cfg.Risk.InitialCash.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("initial cash: got %s", cfg.Risk.InitialCash)
	}
	if cfg.Risk.MaxStopPct != 0.25 || cfg.Risk.MinStopPct != 0.01 {
		t.Errorf("stop bounds: got %v-%v", cfg.Risk.MinStopPct, cfg.Risk.MaxStopPct)
	}
	if cfg.PriceCacheTTL != 5*time.Second {
		t.Errorf("cache ttl: got %v", cfg.PriceCacheTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INITIAL_CASH", "25000.50")
	t.Setenv("MAX_KELLY_FRACTION", "0.30")
	t.Setenv("ENFORCE_MARKET_HOURS", "true")
	t.Setenv("SQLITE_DRIVER", "sqlite")
	t.Setenv("SNAPSHOT_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Risk.InitialCash.Equal(decimal.RequireFromString("25000.50")) {
		t.Errorf("initial cash: got %s", cfg.Risk.InitialCash)
	}
	if cfg.Risk.MaxKellyFraction != 0.30 {
		t.Errorf("kelly: got %v", cfg.Risk.MaxKellyFraction)
	}
	if !cfg.Risk.EnforceMarketHours {
		t.Error("expected market hours enforcement")
	}
	if cfg.SQLiteDriver != "sqlite" || cfg.SnapshotInterval != 30*time.Second {
		t.Errorf("infra overrides not applied: %+v", cfg)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_POSITION_PCT", "abc"},
		{"MAX_POSITION_PCT", "1.5"},
		{"TRADING_MODE", "yolo"},
		{"SQLITE_DRIVER", "postgres"},
		{"INITIAL_CASH", "-1"},
		{"PRICE_CACHE_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_LiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("TRADING_MODE", "live")
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without alpaca credentials")
	}

	t.Setenv("APCA_API_KEY_ID", "key")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeLive {
		t.Errorf("mode: got %q", cfg.Mode)
	}
}

func TestParsePaperPrices(t *testing.T) {
	cfg := &Config{PaperPrices: "aapl=150, MSFT=300.25,bad,NEG=-3,,X=abc"}
	prices := cfg.ParsePaperPrices()
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %v", prices)
	}
	if !prices["AAPL"].Equal(decimal.NewFromInt(150)) {
		t.Errorf("AAPL: got %s", prices["AAPL"])
	}
	if !prices["MSFT"].Equal(decimal.RequireFromString("300.25")) {
		t.Errorf("MSFT: got %s", prices["MSFT"])
	}
}
