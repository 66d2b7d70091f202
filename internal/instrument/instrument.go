// Package instrument defines the immutable reference types the rest of
// the engine is built around: which index, which option contract, and
// the price ticks that arrive for either.
package instrument

import "time"

// Root identifies the underlying index this engine trades options on.
type Root string

const (
	NIFTY     Root = "NIFTY"
	BANKNIFTY Root = "BANKNIFTY"
	FINNIFTY  Root = "FINNIFTY"
	SENSEX    Root = "SENSEX"
)

// Side is the option right, CALL or PUT.
type Side string

const (
	CALL Side = "CALL"
	PUT  Side = "PUT"
)

// Ref identifies the underlying index instrument. Immutable per session.
type Ref struct {
	Root              Root
	LotSize           int
	StrikeStep        float64
	SessionCalendarRef string
}

// OptionRef identifies a single resolved option contract. Immutable
// once resolved by the broker adapter's ResolveOption call.
type OptionRef struct {
	Root             Root
	ExpiryDate       time.Time
	Strike           float64
	Side             Side
	BrokerSecurityID string
}

// Tick is a single price observation for an instrument (index or
// option). WallTimeUTC must be monotonic non-decreasing per instrument;
// the Candle Aggregator drops a tick whose candle boundary is earlier
// than the in-progress candle's, but an out-of-order tick inside the
// current boundary is still folded in.
type Tick struct {
	InstrumentID string // broker security id, or the index root as a string
	WallTimeUTC  time.Time
	LastPrice    float64
}
