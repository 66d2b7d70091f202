// Package entry implements the Entry Evaluator (SPEC_FULL §4.6): the
// gate chain, direction-to-side mapping, optional MACD confirmation,
// strike selection, and lot sizing that together decide whether a new
// Position should be opened on a just-closed candle.
package entry

import (
	"math"
	"time"

	"github.com/optioncore/supertrend-engine/internal/indicator"
	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// Config carries the subset of EngineConfig the Entry Evaluator needs.
type Config struct {
	MaxTradesPerDay           int
	MinGapCandlesBetweenTrades int64
	IntervalSeconds           int64
	UseMacd                   bool
	RiskPerTradeRupees        float64
	ConfiguredLots            int
	InitialStopPoints         float64
	LotSize                   int
	StrikeStep                float64
}

// GateInputs are the per-cycle facts the gate chain checks, gathered by
// the engine loop from the Calendar, RiskBook, and CircuitBreaker.
type GateInputs struct {
	WithinEntryWindow     bool
	DailyLossTripped      bool
	TradesTakenToday      int
	CircuitBreakerTripped bool
	ClosedBoundaryUTC     time.Time
}

// Candidate is a fully-sized entry ready for submission to the Order
// Executor as a BUY.
type Candidate struct {
	Side   instrument.Side
	Strike float64
	Lots   int
	Qty    int
}

// Evaluator holds the one piece of state the gate chain needs beyond
// what's passed in per cycle: the boundary of the most recent exit, for
// the minGapCandlesBetweenTrades rule.
type Evaluator struct {
	cfg              Config
	lastExitBoundary time.Time
	haveLastExit     bool
}

// New builds an Evaluator. No prior exit is assumed, so the gap gate is
// open from the first candle (SPEC_FULL §4.6).
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// UpdateConfig swaps in a new risk/sizing config (runtime-tightenable
// fields only).
func (e *Evaluator) UpdateConfig(cfg Config) { e.cfg = cfg }

// RecordExit is called by the engine loop once a Position transitions
// to CLOSED, so the gap-between-trades gate has a reference boundary.
func (e *Evaluator) RecordExit(boundaryUTC time.Time) {
	e.lastExitBoundary = boundaryUTC
	e.haveLastExit = true
}

func (e *Evaluator) candlesSinceLastExit(closedBoundaryUTC time.Time) int64 {
	if !e.haveLastExit || e.cfg.IntervalSeconds <= 0 {
		return math.MaxInt64
	}
	delta := closedBoundaryUTC.Unix() - e.lastExitBoundary.Unix()
	if delta < 0 {
		return 0
	}
	return delta / e.cfg.IntervalSeconds
}

func (e *Evaluator) gateOpen(g GateInputs) bool {
	if !g.WithinEntryWindow {
		return false
	}
	if g.DailyLossTripped {
		return false
	}
	if e.cfg.MaxTradesPerDay > 0 && g.TradesTakenToday >= e.cfg.MaxTradesPerDay {
		return false
	}
	if e.candlesSinceLastExit(g.ClosedBoundaryUTC) < e.cfg.MinGapCandlesBetweenTrades {
		return false
	}
	if g.CircuitBreakerTripped {
		return false
	}
	return true
}

// directionToSide maps SuperTrend direction to the candidate option
// side; indicator.None never yields a candidate.
func directionToSide(d indicator.Direction) (instrument.Side, bool) {
	switch d {
	case indicator.Up:
		return instrument.CALL, true
	case indicator.Down:
		return instrument.PUT, true
	default:
		return "", false
	}
}

// macdConfirms checks the useMacd confirmation rule: both the MACD and
// the SuperTrend ATR must be warmed up, and the histogram sign must
// agree with the candidate side (SPEC_FULL §4.6, §4.4).
func macdConfirms(side instrument.Side, macd *indicator.MACD, superTrendWarmedUp bool) bool {
	if macd == nil || !macd.WarmedUp() || !superTrendWarmedUp {
		return false
	}
	hist := macd.Histogram()
	if side == instrument.CALL {
		return hist > 0
	}
	return hist < 0
}

// sizeLots implements the SPEC_FULL §4.6 sizing rule.
func (e *Evaluator) sizeLots() int {
	if e.cfg.RiskPerTradeRupees > 0 && e.cfg.InitialStopPoints > 0 && e.cfg.LotSize > 0 {
		lots := int(math.Floor(e.cfg.RiskPerTradeRupees / (e.cfg.InitialStopPoints * float64(e.cfg.LotSize))))
		if lots < 1 {
			lots = 1
		}
		return lots
	}
	return e.cfg.ConfiguredLots
}

// Evaluate runs the full gate chain and, if everything passes, returns
// a sized Candidate ready for the Order Executor. direction/flipped
// come from the just-updated SuperTrend; macd is nil when useMacd is
// false. Evaluate must only be called when no Position is OPEN,
// OPENING, or CLOSING (SPEC_FULL §4.6) and only on a closed candle.
func (e *Evaluator) Evaluate(g GateInputs, direction indicator.Direction, flipped bool, superTrendWarmedUp bool, macd *indicator.MACD, spotAtClose float64) *Candidate {
	if !flipped {
		return nil
	}
	if !e.gateOpen(g) {
		return nil
	}

	side, ok := directionToSide(direction)
	if !ok {
		return nil
	}

	if e.cfg.UseMacd && !macdConfirms(side, macd, superTrendWarmedUp) {
		return nil
	}

	strike := e.cfg.StrikeStep * math.Round(spotAtClose/e.cfg.StrikeStep)
	lots := e.sizeLots()
	return &Candidate{
		Side:   side,
		Strike: strike,
		Lots:   lots,
		Qty:    lots * e.cfg.LotSize,
	}
}
