// Package config loads and validates the EngineConfig (SPEC_FULL §3,
// §6): every tunable the engine loop, risk/entry evaluators, and
// broker adapters read, loaded once from a JSON file at startup with
// environment-variable overrides for secrets and deployment-specific
// values. Only the Risk subset is hot-reloadable; see
// watcher.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/optioncore/supertrend-engine/internal/entry"
	"github.com/optioncore/supertrend-engine/internal/execution"
	"github.com/optioncore/supertrend-engine/internal/instrument"
	"github.com/optioncore/supertrend-engine/internal/risk"
)

// Mode selects whether the engine places real orders.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config is the full EngineConfig the engine loads at startup and,
// field-by-field, hands to its collaborators.
type Config struct {
	StrategyInstanceID string `json:"strategy_instance_id"`
	ActiveBroker       string `json:"active_broker"`
	TradingMode        Mode   `json:"trading_mode"`

	IndexRoot      instrument.Root `json:"index_root"`
	LotSize        int             `json:"lot_size"`
	StrikeStep     float64         `json:"strike_step"`
	IntervalSeconds int64          `json:"interval_seconds"`

	SuperTrendPeriod     int     `json:"supertrend_period"`
	SuperTrendMultiplier float64 `json:"supertrend_multiplier"`
	UseMacd              bool    `json:"use_macd"`
	MacdFast             int     `json:"macd_fast"`
	MacdSlow             int     `json:"macd_slow"`
	MacdSignal           int     `json:"macd_signal"`

	Risk  RiskConfig  `json:"risk"`
	Entry EntryConfig `json:"entry"`

	Session SessionConfig `json:"session"`

	PollIntervalMs int `json:"poll_interval_ms"`
	FillTimeoutSec int `json:"fill_timeout_sec"`

	HeartbeatIntervalMs  int `json:"heartbeat_interval_ms"`
	WorkerPoolConcurrency int `json:"worker_pool_concurrency"`

	MarketCalendarPath string `json:"market_calendar_path"`
	DatabaseURL        string `json:"database_url"`

	BrokerConfig map[string]json.RawMessage `json:"broker_config"`
	Postback     PostbackConfig             `json:"postback"`

	Paths PathsConfig `json:"paths"`
}

// RiskConfig is the JSON shape of risk.Config (SPEC_FULL §4.5).
type RiskConfig struct {
	DailyMaxLossRupees    float64 `json:"daily_max_loss_rupees"`
	MaxLossPerTradeRupees float64 `json:"max_loss_per_trade_rupees"`
	TargetPoints          float64 `json:"target_points"`
	TrailStartPoints      float64 `json:"trail_start_points"`
	TrailStepPoints       float64 `json:"trail_step_points"`
	MinHoldSeconds        int     `json:"min_hold_seconds"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

// CircuitBreakerConfig is the JSON shape of risk.CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	MaxFailuresPerHour     int `json:"max_failures_per_hour"`
	CooldownMinutes        int `json:"cooldown_minutes"`
}

// EntryConfig is the JSON shape of entry.Config (SPEC_FULL §4.6).
type EntryConfig struct {
	MaxTradesPerDay            int     `json:"max_trades_per_day"`
	MinGapCandlesBetweenTrades int64   `json:"min_gap_candles_between_trades"`
	RiskPerTradeRupees         float64 `json:"risk_per_trade_rupees"`
	ConfiguredLots             int     `json:"configured_lots"`
	InitialStopPoints          float64 `json:"initial_stop_points"`
}

// SessionConfig carries the IST window strings clock.Config needs.
type SessionConfig struct {
	EntryOpenIST   string `json:"entry_open_ist"`
	EntryCloseIST  string `json:"entry_close_ist"`
	ForceFlatIST   string `json:"force_flat_ist"`
	SessionOpenIST string `json:"session_open_ist"`
	SessionEndIST  string `json:"session_end_ist"`
}

// PostbackConfig holds settings for the order postback HTTP server
// (SPEC_FULL §4.2's async fill-hint optimization).
type PostbackConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// PathsConfig defines filesystem paths the engine reads/writes.
type PathsConfig struct {
	LogDir string `json:"log_dir"`
}

// Load reads configuration from a JSON file. Environment variables
// override the trading mode, broker, and database URL, since those are
// deployment secrets that should not live in a checked-in file.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}

	if v := os.Getenv("ENGINE_TRADING_MODE"); v != "" {
		cfg.TradingMode = Mode(v)
	}
	if v := os.Getenv("ENGINE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ENGINE_ACTIVE_BROKER"); v != "" {
		cfg.ActiveBroker = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and applies the live-mode safety
// caps (SPEC_FULL §6): live trading never silently inherits a paper
// config's looser limits.
func (c *Config) Validate() error {
	if c.StrategyInstanceID == "" {
		return fmt.Errorf("strategy_instance_id is required")
	}
	if c.ActiveBroker == "" {
		return fmt.Errorf("active_broker is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lot_size must be positive, got %d", c.LotSize)
	}
	if c.StrikeStep <= 0 {
		return fmt.Errorf("strike_step must be positive, got %f", c.StrikeStep)
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.SuperTrendPeriod <= 0 {
		return fmt.Errorf("supertrend_period must be positive, got %d", c.SuperTrendPeriod)
	}
	if c.Risk.MaxLossPerTradeRupees <= 0 {
		return fmt.Errorf("risk.max_loss_per_trade_rupees must be positive, got %f", c.Risk.MaxLossPerTradeRupees)
	}
	if c.Entry.InitialStopPoints <= 0 {
		return fmt.Errorf("entry.initial_stop_points must be positive, got %f", c.Entry.InitialStopPoints)
	}
	if c.Entry.RiskPerTradeRupees <= 0 && c.Entry.ConfiguredLots <= 0 {
		return fmt.Errorf("entry.risk_per_trade_rupees or entry.configured_lots must be set")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}
	return nil
}

// validateLiveMode enforces extra safety caps when real orders will be
// placed (SPEC_FULL §6), mirroring the teacher's live-mode guardrails.
func (c *Config) validateLiveMode() error {
	if c.BrokerConfig == nil {
		return fmt.Errorf("broker_config is required for live trading")
	}
	if _, ok := c.BrokerConfig[c.ActiveBroker]; !ok {
		return fmt.Errorf("broker_config[%q] is required for live trading", c.ActiveBroker)
	}
	if c.Risk.DailyMaxLossRupees <= 0 {
		return fmt.Errorf("risk.daily_max_loss_rupees is required for live trading")
	}
	if c.Entry.MaxTradesPerDay <= 0 || c.Entry.MaxTradesPerDay > 20 {
		return fmt.Errorf("entry.max_trades_per_day must be in (0, 20] in live mode, got %d", c.Entry.MaxTradesPerDay)
	}
	if c.Entry.ConfiguredLots > 10 {
		return fmt.Errorf("entry.configured_lots cannot exceed 10 in live mode (got %d)", c.Entry.ConfiguredLots)
	}
	return nil
}

// RiskEvaluatorConfig projects the risk subset into risk.Config.
func (c *Config) RiskEvaluatorConfig() risk.Config {
	return risk.Config{
		DailyMaxLossRupees:    c.Risk.DailyMaxLossRupees,
		MaxLossPerTradeRupees: c.Risk.MaxLossPerTradeRupees,
		TargetPoints:          c.Risk.TargetPoints,
		TrailStartPoints:      c.Risk.TrailStartPoints,
		TrailStepPoints:       c.Risk.TrailStepPoints,
		MinHoldSeconds:        c.Risk.MinHoldSeconds,
	}
}

// EntryEvaluatorConfig projects the entry subset into entry.Config.
func (c *Config) EntryEvaluatorConfig() entry.Config {
	return entry.Config{
		MaxTradesPerDay:            c.Entry.MaxTradesPerDay,
		MinGapCandlesBetweenTrades: c.Entry.MinGapCandlesBetweenTrades,
		IntervalSeconds:            c.IntervalSeconds,
		UseMacd:                    c.UseMacd,
		RiskPerTradeRupees:         c.Entry.RiskPerTradeRupees,
		ConfiguredLots:             c.Entry.ConfiguredLots,
		InitialStopPoints:          c.Entry.InitialStopPoints,
		LotSize:                    c.LotSize,
		StrikeStep:                 c.StrikeStep,
	}
}

// CircuitBreakerEvaluatorConfig projects the circuit breaker subset
// into risk.CircuitBreakerConfig.
func (c *Config) CircuitBreakerEvaluatorConfig() risk.CircuitBreakerConfig {
	return risk.CircuitBreakerConfig{
		MaxConsecutiveFailures: c.Risk.CircuitBreaker.MaxConsecutiveFailures,
		MaxFailuresPerHour:     c.Risk.CircuitBreaker.MaxFailuresPerHour,
		CooldownMinutes:        c.Risk.CircuitBreaker.CooldownMinutes,
	}
}

// ExecutionConfig projects the poll/timeout fields into execution.Config.
func (c *Config) ExecutionConfig() execution.Config {
	poll := c.PollIntervalMs
	if poll <= 0 {
		poll = 500
	}
	timeout := c.FillTimeoutSec
	if timeout <= 0 {
		timeout = 15
	}
	return execution.Config{
		PollInterval: time.Duration(poll) * time.Millisecond,
		FillTimeout:  time.Duration(timeout) * time.Second,
	}
}

// HeartbeatInterval returns the loop's per-cycle cadence, defaulting to
// one second (SPEC_FULL §4.9).
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// IndexRef builds the instrument.Ref the engine loop and broker calls
// use to identify the underlying.
func (c *Config) IndexRef() instrument.Ref {
	return instrument.Ref{Root: c.IndexRoot, LotSize: c.LotSize, StrikeStep: c.StrikeStep}
}
