package indicator

// EMA is a streaming exponential moving average: ema[0] = first value;
// ema[i] = value*k + ema[i-1]*(1-k), k = 2/(n+1). This is the generic
// building block MACD is built from below, and is itself a Wilder-style
// streaming recurrence in the same family as SuperTrend's ATR.
type EMA struct {
	n        int
	k        float64
	value    float64
	warm     bool
	warmSeen int
}

// NewEMA creates an EMA over n periods.
func NewEMA(n int) *EMA {
	return &EMA{n: n, k: 2.0 / float64(n+1)}
}

// Update folds in one new value and returns the updated EMA value.
func (e *EMA) Update(v float64) float64 {
	if !e.warm {
		e.value = v
		e.warm = true
	} else {
		e.value = v*e.k + e.value*(1-e.k)
	}
	e.warmSeen++
	return e.value
}

// WarmedUp reports whether at least n values have been folded in.
func (e *EMA) WarmedUp() bool { return e.warmSeen >= e.n }

// Value returns the current EMA value.
func (e *EMA) Value() float64 { return e.value }

// MACD maintains the streaming fast/slow EMA of price and the EMA of
// their difference (the signal line), per SPEC_FULL §4.4.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	macdLine   float64
	signalLine float64
}

// NewMACD creates a MACD(fast, slow, signal) indicator.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

// Update folds in one closed candle's close price.
func (m *MACD) Update(close float64) {
	f := m.fast.Update(close)
	s := m.slow.Update(close)
	m.macdLine = f - s
	m.signalLine = m.signal.Update(m.macdLine)
}

// WarmedUp reports whether both the slow EMA and the signal-line EMA
// have accumulated enough closed candles to be meaningful. The slow EMA
// is the longer of fast/slow by construction, so gating on it is
// sufficient for the MACD line; the signal EMA is gated separately
// since it warms up from macdLine values, not from price.
func (m *MACD) WarmedUp() bool {
	return m.slow.WarmedUp() && m.signal.WarmedUp()
}

// Histogram returns macdLine - signalLine, the value whose sign the
// Entry Evaluator's optional confirmation gate checks against the
// candidate side (SPEC_FULL §4.6).
func (m *MACD) Histogram() float64 { return m.macdLine - m.signalLine }

// Lines returns the raw MACD and signal line values.
func (m *MACD) Lines() (macdLine, signalLine float64) { return m.macdLine, m.signalLine }
