// evaluator.go implements the fixed-priority tick-level and
// candle-close-level exit evaluator (SPEC_FULL §4.5).
package risk

import (
	"time"

	"github.com/optioncore/supertrend-engine/internal/indicator"
	"github.com/optioncore/supertrend-engine/internal/instrument"
	"github.com/optioncore/supertrend-engine/internal/position"
)

// Reason strings, used verbatim in TradeRecord.exitReason (SPEC_FULL §3).
const (
	ReasonDailyMaxLoss    = "Daily Max Loss"
	ReasonPerTradeMaxLoss = "Max Loss Per Trade"
	ReasonInitialStop     = "Initial SL"
	ReasonTarget          = "Target"
	ReasonTrailingStop    = "Trail SL"
	ReasonReversal        = "Reversal"
	ReasonForceFlat       = "Force Squareoff"
	ReasonManual          = "Manual"
)

// Trigger is the outcome of an evaluator pass: a named exit reason, or
// nil if nothing fired this cycle.
type Trigger struct {
	Reason string
}

// Config carries the subset of EngineConfig the evaluator needs.
type Config struct {
	DailyMaxLossRupees    float64
	MaxLossPerTradeRupees float64
	TargetPoints          float64
	TrailStartPoints      float64
	TrailStepPoints       float64
	MinHoldSeconds        int
}

// Evaluator runs the fixed-priority exit chain for one strategy
// instance's Position against its RiskBook.
type Evaluator struct {
	cfg  Config
	book *RiskBook
}

// NewEvaluator builds an Evaluator bound to one instance's RiskBook.
func NewEvaluator(cfg Config, book *RiskBook) *Evaluator {
	return &Evaluator{cfg: cfg, book: book}
}

// UpdateConfig swaps in a new risk config (runtime-tightenable fields
// only, per SPEC_FULL §6 updateConfig semantics).
func (e *Evaluator) UpdateConfig(cfg Config) { e.cfg = cfg }

// EvaluateTick runs triggers 1-5 of SPEC_FULL §4.5 in priority order
// against an OPEN position and the latest option tick. Also arms/
// advances the trailing stop as a side effect, per the spec's
// stateful trailing-stop rule. Returns nil if nothing fires.
func (e *Evaluator) EvaluateTick(pos *position.Position, ltp float64) *Trigger {
	unrealized := pos.UnrealizedPnl(ltp)

	// 1. DAILY_MAX_LOSS
	if e.cfg.DailyMaxLossRupees > 0 {
		total := e.book.RealizedPnlToday + unrealized
		if total <= -e.cfg.DailyMaxLossRupees {
			e.book.TripDailyLoss()
			return &Trigger{Reason: ReasonDailyMaxLoss}
		}
	}

	// 2. PER_TRADE_MAX_LOSS
	if e.cfg.MaxLossPerTradeRupees > 0 && unrealized <= -e.cfg.MaxLossPerTradeRupees {
		return &Trigger{Reason: ReasonPerTradeMaxLoss}
	}

	// 3. INITIAL_STOP
	if pos.Anchors.InitialStop > 0 && ltp <= pos.Anchors.InitialStop {
		return &Trigger{Reason: ReasonInitialStop}
	}

	// 4. TARGET
	if e.cfg.TargetPoints > 0 && ltp >= pos.EntryPrice+e.cfg.TargetPoints {
		return &Trigger{Reason: ReasonTarget}
	}

	// 5. TRAILING_STOP
	if e.cfg.TrailStartPoints > 0 && e.cfg.TrailStepPoints > 0 {
		if !pos.Anchors.TrailingArmed {
			if ltp-pos.EntryPrice >= e.cfg.TrailStartPoints {
				pos.ArmTrailingStop(ltp, e.cfg.TrailStepPoints)
			}
		} else {
			pos.AdvanceTrailingStop(ltp, e.cfg.TrailStepPoints)
		}
		if pos.Anchors.TrailingArmed && ltp <= pos.Anchors.TrailingStop {
			return &Trigger{Reason: ReasonTrailingStop}
		}
	}

	return nil
}

// EvaluateCandleClose runs trigger 6 (REVERSAL) of SPEC_FULL §4.5. It
// only fires once the position has been held for at least
// cfg.MinHoldSeconds, independent of minGapCandlesBetweenTrades (which
// gates new entries, not exits of the current position — see DESIGN.md
// open-question (a)).
func (e *Evaluator) EvaluateCandleClose(pos *position.Position, direction indicator.Direction, now time.Time) *Trigger {
	held := now.Sub(pos.EntryTime)
	if held < time.Duration(e.cfg.MinHoldSeconds)*time.Second {
		return nil
	}

	reversed := (pos.Side == instrument.CALL && direction == indicator.Down) ||
		(pos.Side == instrument.PUT && direction == indicator.Up)
	if reversed {
		return &Trigger{Reason: ReasonReversal}
	}
	return nil
}

// EvaluateForceFlat runs trigger 7: an unconditional override, checked
// against wall time rather than price. It overrides every other rule
// (SPEC_FULL §4.5) — callers run this check first, not last.
func EvaluateForceFlat(atOrAfterForceFlat bool) *Trigger {
	if atOrAfterForceFlat {
		return &Trigger{Reason: ReasonForceFlat}
	}
	return nil
}
