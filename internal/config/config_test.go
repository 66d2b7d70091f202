package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const validPaperJSON = `{
	"strategy_instance_id": "nifty-15m",
	"active_broker": "paper",
	"trading_mode": "paper",
	"index_root": "NIFTY",
	"lot_size": 75,
	"strike_step": 50,
	"interval_seconds": 900,
	"supertrend_period": 10,
	"supertrend_multiplier": 3.0,
	"risk": {
		"daily_max_loss_rupees": 5000,
		"max_loss_per_trade_rupees": 1500
	},
	"entry": {
		"max_trades_per_day": 3,
		"initial_stop_points": 15,
		"configured_lots": 1
	},
	"database_url": "postgres://localhost/test"
}`

func TestConfig_LoadValid(t *testing.T) {
	path := writeTestConfig(t, validPaperJSON)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ActiveBroker != "paper" {
		t.Errorf("expected paper, got %s", cfg.ActiveBroker)
	}
	if cfg.TradingMode != ModePaper {
		t.Errorf("expected paper, got %s", cfg.TradingMode)
	}
	if cfg.LotSize != 75 {
		t.Errorf("expected lot size 75, got %d", cfg.LotSize)
	}
}

func TestConfig_RejectsInvalidMode(t *testing.T) {
	bad := strings.Replace(validPaperJSON, `"trading_mode": "paper"`, `"trading_mode": "invalid"`, 1)
	path := writeTestConfig(t, bad)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid trading mode")
	}
}

func TestConfig_RejectsMissingInitialStop(t *testing.T) {
	bad := strings.Replace(validPaperJSON, `"initial_stop_points": 15,`, "", 1)
	path := writeTestConfig(t, bad)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for missing initial_stop_points")
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, validLiveJSON)

	os.Setenv("ENGINE_TRADING_MODE", "live")
	defer os.Unsetenv("ENGINE_TRADING_MODE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TradingMode != ModeLive {
		t.Errorf("expected env override to live, got %s", cfg.TradingMode)
	}
}

const validLiveJSON = `{
	"strategy_instance_id": "nifty-15m",
	"active_broker": "live",
	"trading_mode": "paper",
	"index_root": "NIFTY",
	"lot_size": 75,
	"strike_step": 50,
	"interval_seconds": 900,
	"supertrend_period": 10,
	"supertrend_multiplier": 3.0,
	"risk": {
		"daily_max_loss_rupees": 5000,
		"max_loss_per_trade_rupees": 1500
	},
	"entry": {
		"max_trades_per_day": 3,
		"initial_stop_points": 15,
		"configured_lots": 1
	},
	"broker_config": {"live": {"api_key": "test"}},
	"database_url": "postgres://localhost/test"
}`

// validLiveConfig returns a Config that passes all live mode validations.
func validLiveConfig() Config {
	return Config{
		StrategyInstanceID:   "nifty-15m",
		ActiveBroker:         "live",
		TradingMode:          ModeLive,
		IndexRoot:            "NIFTY",
		LotSize:              75,
		StrikeStep:           50,
		IntervalSeconds:      900,
		SuperTrendPeriod:     10,
		SuperTrendMultiplier: 3.0,
		Risk: RiskConfig{
			DailyMaxLossRupees:    5000,
			MaxLossPerTradeRupees: 1500,
		},
		Entry: EntryConfig{
			MaxTradesPerDay:   3,
			InitialStopPoints: 15,
			ConfiguredLots:    1,
		},
		BrokerConfig: map[string]json.RawMessage{
			"live": json.RawMessage(`{"api_key":"test"}`),
		},
		DatabaseURL: "postgres://localhost/test",
	}
}

func TestLiveMode_RequiresBrokerConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when broker_config is nil in live mode")
	}
	if !strings.Contains(err.Error(), "broker_config") {
		t.Errorf("error should mention broker_config, got: %v", err)
	}
}

func TestLiveMode_RequiresActiveBrokerInConfig(t *testing.T) {
	cfg := validLiveConfig()
	cfg.BrokerConfig = map[string]json.RawMessage{
		"other_broker": json.RawMessage(`{}`),
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when active broker not in broker_config")
	}
	if !strings.Contains(err.Error(), "live") {
		t.Errorf("error should mention active broker name, got: %v", err)
	}
}

func TestLiveMode_RequiresDailyMaxLoss(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Risk.DailyMaxLossRupees = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when daily_max_loss_rupees is zero in live mode")
	}
	if !strings.Contains(err.Error(), "daily_max_loss_rupees") {
		t.Errorf("error should mention daily_max_loss_rupees, got: %v", err)
	}
}

func TestLiveMode_MaxTradesPerDayCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Entry.MaxTradesPerDay = 50 // exceeds live mode cap of 20

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when max_trades_per_day > 20 in live mode")
	}
	if !strings.Contains(err.Error(), "max_trades_per_day") {
		t.Errorf("error should mention max_trades_per_day, got: %v", err)
	}
}

func TestLiveMode_ConfiguredLotsCap(t *testing.T) {
	cfg := validLiveConfig()
	cfg.Entry.ConfiguredLots = 20 // exceeds live mode cap of 10

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when configured_lots > 10 in live mode")
	}
	if !strings.Contains(err.Error(), "configured_lots") {
		t.Errorf("error should mention configured_lots, got: %v", err)
	}
}

func TestLiveMode_RequiresDatabaseURL(t *testing.T) {
	cfg := validLiveConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when database_url is empty")
	}
	if !strings.Contains(err.Error(), "database_url") {
		t.Errorf("error should mention database_url, got: %v", err)
	}
}

func TestLiveMode_ValidConfigPasses(t *testing.T) {
	cfg := validLiveConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid live config should pass validation, got: %v", err)
	}
}

func TestPaperMode_SkipsLiveChecks(t *testing.T) {
	cfg := Config{
		StrategyInstanceID:   "nifty-15m",
		ActiveBroker:         "paper",
		TradingMode:          ModePaper,
		IndexRoot:            "NIFTY",
		LotSize:              75,
		StrikeStep:           50,
		IntervalSeconds:      900,
		SuperTrendPeriod:     10,
		SuperTrendMultiplier: 3.0,
		Risk: RiskConfig{
			MaxLossPerTradeRupees: 1500, // daily_max_loss left at 0, which would fail live mode
		},
		Entry: EntryConfig{
			MaxTradesPerDay:   50,  // would fail live mode
			ConfiguredLots:    20,  // would fail live mode
			InitialStopPoints: 15,
		},
		DatabaseURL: "postgres://localhost/test",
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("paper mode should not enforce live mode caps, got: %v", err)
	}
}
