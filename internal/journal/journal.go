// Package journal is the durable, idempotent Trade Journal (SPEC_FULL
// §4.8): an append-mostly store of trade lifecycle events plus the
// per-day risk book and runtime config snapshot it shares a connection
// pool and per-row single-writer discipline with.
package journal

import (
	"context"
	"time"

	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// TradeRecord is one row of the trades table, covering both the open
// and (once closed) close half of a Position's lifecycle.
type TradeRecord struct {
	TradeID            string
	StrategyInstanceID string
	Root               instrument.Root
	OptionRef          instrument.OptionRef
	Side               instrument.Side
	Qty                int
	EntryTime          time.Time
	EntryPrice         float64
	InitialStop        float64
	BrokerOrderID      string

	ExitTime    *time.Time // nil until closed
	ExitPrice   float64
	ExitReason  string
	RealizedPnl float64
}

// DayStats is one row of the day_stats table: the persisted mirror of
// risk.RiskBook for crash recovery (SPEC_FULL §12).
type DayStats struct {
	StrategyInstanceID string
	TradingDayIST      time.Time
	RealizedPnlToday   float64
	TradesTakenToday   int
	DailyLossTripped   bool
}

// ConfigRow is one row of the config table: the last-applied runtime
// config for a strategy instance, read back on recovery so a restart
// resumes with the same risk posture (SPEC_FULL §6).
type ConfigRow struct {
	StrategyInstanceID string
	ConfigJSON         []byte
	UpdatedAt          time.Time
}

// Store is the durable persistence contract the engine depends on.
// writeOpen/writeClose MUST be idempotent by TradeID: a retried write
// after a dropped connection collapses into the same row rather than
// producing a duplicate (SPEC_FULL §4.8).
type Store interface {
	WriteOpen(ctx context.Context, rec TradeRecord) error
	WriteClose(ctx context.Context, tradeID string, closeAt time.Time, exitPrice, realizedPnl float64, exitReason string) error

	// OpenTrades returns every trade still without a close, across all
	// strategy instances — the recovery-on-restart read (SPEC_FULL §4.9,
	// §12).
	OpenTrades(ctx context.Context) ([]TradeRecord, error)

	SaveDayStats(ctx context.Context, stats DayStats) error
	LoadDayStats(ctx context.Context, strategyInstanceID string, tradingDayIST time.Time) (*DayStats, error)

	SaveConfig(ctx context.Context, row ConfigRow) error
	LoadConfig(ctx context.Context, strategyInstanceID string) (*ConfigRow, error)

	Ping(ctx context.Context) error
	Close()
}
