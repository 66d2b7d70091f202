// Package candle folds a tick stream into fixed-interval OHLC candles
// with strict boundary alignment. One Aggregator instance owns the
// in-progress candle for exactly one (instrument, interval) pair and is
// meant to be driven synchronously by the owning engine loop — it is a
// single-writer structure, not a concurrent pipeline.
package candle

import (
	"time"
)

// Candle is a fixed-interval OHLC bar. Closed candles are immutable;
// callers must not mutate a Candle received from Fold after Closed is
// true.
type Candle struct {
	InstrumentID     string
	IntervalSeconds  int64
	BoundaryStartUTC time.Time
	Open             float64
	High             float64
	Low              float64
	Close            float64
	Closed           bool
}

// Aggregator maintains the in-progress candle for one instrument at one
// interval.
type Aggregator struct {
	instrumentID    string
	intervalSeconds int64

	current   *Candle
	lastEmitB int64 // boundary (unix seconds) of the last emitted candle, -1 if none yet

	// LateTicks counts ticks whose boundary was behind the current
	// in-progress candle's boundary; they are dropped, never applied.
	LateTicks int64
}

// New creates an Aggregator for one instrument/interval pair. Per the
// restart policy (SPEC_FULL §4.3), a freshly constructed Aggregator
// always starts with no partial candle — any candle that was
// in-progress before a restart is discarded, not replayed.
func New(instrumentID string, intervalSeconds int64) *Aggregator {
	return &Aggregator{
		instrumentID:    instrumentID,
		intervalSeconds: intervalSeconds,
		lastEmitB:       -1,
	}
}

func boundary(w time.Time, intervalSeconds int64) int64 {
	return (w.Unix() / intervalSeconds) * intervalSeconds
}

// Fold incorporates one tick and returns the just-closed candle, if the
// tick rolled the boundary forward. A nil return means the tick only
// updated the in-progress candle.
//
// A tick whose boundary is behind the current in-progress candle's
// boundary is a late/out-of-order tick: it is dropped (LateTicks++) and
// never reopens or mutates an already-closed candle.
func (a *Aggregator) Fold(wallTimeUTC time.Time, price float64) *Candle {
	b := boundary(wallTimeUTC, a.intervalSeconds)

	if a.current == nil {
		a.current = a.newCandle(b, price)
		return nil
	}

	curB := a.current.BoundaryStartUTC.Unix()
	switch {
	case b < curB:
		a.LateTicks++
		return nil
	case b == curB:
		if price > a.current.High {
			a.current.High = price
		}
		if price < a.current.Low {
			a.current.Low = price
		}
		a.current.Close = price
		return nil
	default:
		closed := a.current
		closed.Closed = true
		a.lastEmitB = curB
		a.current = a.newCandle(b, price)
		return closed
	}
}

func (a *Aggregator) newCandle(boundarySec int64, price float64) *Candle {
	return &Candle{
		InstrumentID:     a.instrumentID,
		IntervalSeconds:  a.intervalSeconds,
		BoundaryStartUTC: time.Unix(boundarySec, 0).UTC(),
		Open:             price,
		High:             price,
		Low:              price,
		Close:            price,
		Closed:           false,
	}
}

// LastClosedBoundary returns the boundary (unix seconds) of the most
// recently emitted closed candle, or -1 if none has closed yet.
func (a *Aggregator) LastClosedBoundary() int64 { return a.lastEmitB }

// InProgress returns a copy of the current forming candle, or nil if
// none exists yet. Useful for snapshot publication (SPEC_FULL §4.9).
func (a *Aggregator) InProgress() *Candle {
	if a.current == nil {
		return nil
	}
	c := *a.current
	return &c
}
