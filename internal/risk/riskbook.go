package risk

import "time"

// RiskBook tracks the per-trading-day P&L and trade count for one
// strategy instance (SPEC_FULL §3). It resets at session-day rollover.
type RiskBook struct {
	DayStartUTC      time.Time
	RealizedPnlToday float64
	TradesTakenToday int
	DailyLossTripped bool
}

// NewRiskBook starts a fresh book for the given IST calendar day.
func NewRiskBook(dayStartUTC time.Time) *RiskBook {
	return &RiskBook{DayStartUTC: dayStartUTC}
}

// RolloverIfNeeded resets the book when dayStartUTC advances to a new
// trading day. Returns true if a rollover happened.
func (rb *RiskBook) RolloverIfNeeded(dayStartUTC time.Time) bool {
	if dayStartUTC.Equal(rb.DayStartUTC) {
		return false
	}
	rb.DayStartUTC = dayStartUTC
	rb.RealizedPnlToday = 0
	rb.TradesTakenToday = 0
	rb.DailyLossTripped = false
	return true
}

// RecordRealized folds a closed trade's realized P&L into the day's
// total. Called only after the SELL fill is confirmed, before the close
// is journaled (SPEC_FULL §3 Lifecycles).
func (rb *RiskBook) RecordRealized(pnl float64) {
	rb.RealizedPnlToday += pnl
}

// IncrementTrades is called only on confirmed BUY fill (open question
// (b) in SPEC_FULL §9, decided: on fill, not on submit).
func (rb *RiskBook) IncrementTrades() {
	rb.TradesTakenToday++
}

// TripDailyLoss marks the daily loss guard as triggered; no further
// entries are permitted for the rest of the session-day.
func (rb *RiskBook) TripDailyLoss() {
	rb.DailyLossTripped = true
}
