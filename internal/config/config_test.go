package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.App.Name != "test" {
		t.Fatalf("unexpected app name %q", cfg.App.Name)
	}
	if cfg.Engine.Interval != time.Second {
		t.Fatalf("expected 1s interval, got %s", cfg.Engine.Interval)
	}
	if !cfg.Engine.AutoEnable || cfg.Engine.AutoPercentThreshold != 3.0 {
		t.Fatalf("unexpected auto alert defaults: %+v", cfg.Engine)
	}
	if cfg.Market.HistoryCapacity != 200 || cfg.Storage.PriceHistoryMax != 200 {
		t.Fatalf("unexpected history capacity defaults")
	}
	if cfg.Stream.StopTimeout != time.Second {
		t.Fatalf("expected 1s stop timeout, got %s", cfg.Stream.StopTimeout)
	}
	if cfg.Engine.LockTimeout != time.Second || cfg.Alerting.QueueSize != 256 {
		t.Fatalf("unexpected lock timeout %s or queue size %d", cfg.Engine.LockTimeout, cfg.Alerting.QueueSize)
	}
	if len(cfg.Universe.Candidates) != len(DefaultCandidates) {
		t.Fatalf("expected %d candidates, got %d", len(DefaultCandidates), len(cfg.Universe.Candidates))
	}
}

func TestLoadOverrides(t *testing.T) {
	body := `
universe:
  quote_asset: usdt
  candidates: "btc,eth"
engine:
  interval: 250ms
  auto_percent_threshold: 5
storage:
  dir: /tmp/alerts
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Engine.Interval != 250*time.Millisecond {
		t.Fatalf("unexpected interval %s", cfg.Engine.Interval)
	}
	if cfg.Engine.AutoPercentThreshold != 5 {
		t.Fatalf("unexpected threshold %v", cfg.Engine.AutoPercentThreshold)
	}
	symbols := cfg.Universe.Symbols()
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Fatalf("unexpected fallback symbols %v", symbols)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no candidates":      func(c *Config) { c.Universe.Candidates = nil },
		"zero interval":      func(c *Config) { c.Engine.Interval = 0 },
		"negative threshold": func(c *Config) { c.Engine.AutoPercentThreshold = -1 },
		"zero capacity":      func(c *Config) { c.Market.HistoryCapacity = 0 },
		"telegram no token":  func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func validConfig() Config {
	return Config{
		Universe: UniverseConfig{QuoteAsset: "USDT", Candidates: []string{"BTC"}, RequestTimeout: time.Second},
		Stream:   StreamConfig{BaseURL: "wss://example", StopTimeout: time.Second},
		Market:   MarketConfig{HistoryCapacity: 200},
		Engine:   EngineConfig{Interval: time.Second, AutoPercentThreshold: 3},
		Storage:  StorageConfig{Dir: "resources", PriceHistoryMax: 200},
	}
}
