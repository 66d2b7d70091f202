// Package position owns the at-most-one-open-position state machine for
// a single strategy instance, including its risk anchors (stops,
// target, trailing high-water mark) and the single-SELL-in-flight
// invariant the Order Executor depends on.
package position

import (
	"errors"
	"time"

	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// State is the Position lifecycle state (SPEC_FULL §3).
type State string

const (
	Opening State = "OPENING"
	Open    State = "OPEN"
	Closing State = "CLOSING"
	Closed  State = "CLOSED"
)

// ErrAlreadyExiting is returned by RequestExit when an exit order is
// already in flight for this Position; callers must treat this as a
// no-op coalesce, not an error to surface (SPEC_FULL §4.7).
var ErrAlreadyExiting = errors.New("position: exit already in flight")

// ErrNoPosition is returned by operations that require an OPEN/CLOSING
// position when none exists.
var ErrNoPosition = errors.New("position: no position held")

// Anchors are the risk-management reference points carried for the
// life of a Position.
type Anchors struct {
	InitialStop      float64
	TrailingStop     float64 // 0 = not yet armed
	TargetPrice      float64 // 0 = disabled
	MaxLossRupees    float64 // 0 = disabled
	HighWaterMark    float64 // 0 = not yet armed
	TrailingArmed    bool
}

// Position is the single open/opening/closing position a strategy
// instance may hold.
type Position struct {
	TradeID     string
	OptionRef   instrument.OptionRef
	Side        instrument.Side // CALL -> CE, PUT -> PE in journal terms
	EntryTime   time.Time
	EntryPrice  float64
	Qty         int // absolute contracts = lots * lotSize
	Anchors     Anchors
	OpenOrderID string
	ExitOrderID string // empty until an exit is submitted

	state State
}

// New constructs a Position in the OPENING state, before the BUY fill
// is confirmed. It is not visible to the evaluators as OPEN until
// ConfirmOpen is called.
func New(tradeID string, ref instrument.OptionRef, side instrument.Side, qty int, openOrderID string, initialStop float64) *Position {
	return &Position{
		TradeID:     tradeID,
		OptionRef:   ref,
		Side:        side,
		Qty:         qty,
		OpenOrderID: openOrderID,
		Anchors:     Anchors{InitialStop: initialStop},
		state:       Opening,
	}
}

// State returns the current lifecycle state.
func (p *Position) State() State { return p.state }

// ConfirmOpen transitions OPENING -> OPEN once the BUY fill is
// confirmed by the Order Executor, recording the fill price/time.
func (p *Position) ConfirmOpen(entryTime time.Time, entryPrice float64) {
	p.EntryTime = entryTime
	p.EntryPrice = entryPrice
	p.state = Open
}

// RequestExit transitions OPEN -> CLOSING and assigns exitOrderID,
// enforcing single-assignment: once ExitOrderID is set, further calls
// are a no-op coalesce (ErrAlreadyExiting), never a second SELL
// (SPEC_FULL §4.7, P1, L1).
func (p *Position) RequestExit(exitOrderID string) error {
	if p.state == Closed {
		return ErrNoPosition
	}
	if p.ExitOrderID != "" {
		return ErrAlreadyExiting
	}
	p.ExitOrderID = exitOrderID
	p.state = Closing
	return nil
}

// ConfirmClose transitions CLOSING -> CLOSED once the SELL fill is
// confirmed, and returns the realized P&L: (exitPrice - entryPrice) *
// qty, since the bot is always long the option (SPEC_FULL §4.8).
func (p *Position) ConfirmClose(exitPrice float64) (realizedPnl float64) {
	p.state = Closed
	return (exitPrice - p.EntryPrice) * float64(p.Qty)
}

// UnrealizedPnl computes mark-to-market P&L at the given tick price.
func (p *Position) UnrealizedPnl(ltp float64) float64 {
	return (ltp - p.EntryPrice) * float64(p.Qty)
}

// ClearFailedExit resets ExitOrderID after a SELL-reject, letting the
// evaluator retry on a later tick (SPEC_FULL §4.7). The Position stays
// CLOSING; it is never reopened to OPEN.
func (p *Position) ClearFailedExit() {
	p.ExitOrderID = ""
}

// ArmTrailingStop sets the trailing anchors the first time price
// crosses trailStartPoints above entry.
func (p *Position) ArmTrailingStop(ltp, trailStepPoints float64) {
	p.Anchors.TrailingArmed = true
	p.Anchors.HighWaterMark = ltp
	p.Anchors.TrailingStop = ltp - trailStepPoints
}

// AdvanceTrailingStop ratchets the trailing stop up as new highs print.
func (p *Position) AdvanceTrailingStop(ltp, trailStepPoints float64) {
	if ltp > p.Anchors.HighWaterMark {
		p.Anchors.HighWaterMark = ltp
		candidate := ltp - trailStepPoints
		if candidate > p.Anchors.TrailingStop {
			p.Anchors.TrailingStop = candidate
		}
	}
}
