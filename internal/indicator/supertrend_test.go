package indicator

import (
	"testing"
	"time"
)

func cAt(sec int64, h, l, c float64) Candle {
	return Candle{BoundaryStartUTC: time.Unix(sec, 0).UTC(), High: h, Low: l, Close: c}
}

func TestSuperTrend_NotWarmedUpBeforePeriod(t *testing.T) {
	st := New(5, 3)
	for i := 0; i < 4; i++ {
		st.Update(cAt(int64(i), 100+float64(i), 98+float64(i), 99+float64(i)))
	}
	if st.WarmedUp() {
		t.Fatalf("expected not warmed up after 4 of 5 periods")
	}
	if st.Direction() != None {
		t.Errorf("Direction before warm-up = %v, want None", st.Direction())
	}
}

func TestSuperTrend_WarmsUpAndFlipsAtMostOncePerCandle(t *testing.T) {
	st := New(3, 2)

	flips := 0
	prices := []float64{100, 101, 102, 50, 51}
	for i, p := range prices {
		flipped := st.Update(cAt(int64(i), p+1, p-1, p))
		if flipped {
			flips++
		}
	}
	if !st.WarmedUp() {
		t.Fatalf("expected warmed up after %d candles with period 3", len(prices))
	}
	// A single call to Update can flip at most once; across this whole
	// run we expect at most one flip per distinct call, i.e. flips <= len(prices).
	if flips > len(prices) {
		t.Errorf("flips=%d exceeds number of updates=%d", flips, len(prices))
	}
}

func TestEMA_FirstValueSeedsState(t *testing.T) {
	e := NewEMA(3)
	if got := e.Update(10); got != 10 {
		t.Errorf("first EMA update = %v, want seed value 10", got)
	}
	if e.WarmedUp() {
		t.Errorf("expected not warmed up after 1 of 3 values")
	}
}

func TestMACD_HistogramSignMatchesTrend(t *testing.T) {
	m := NewMACD(2, 4, 2)
	// Feed a clear uptrend: fast EMA should pull above slow EMA quickly.
	for i, p := range []float64{100, 102, 104, 106, 108, 110, 112} {
		_ = i
		m.Update(p)
	}
	if !m.WarmedUp() {
		t.Fatalf("expected MACD warmed up after 7 candles with slow=4 signal=2")
	}
	if m.Histogram() <= 0 {
		t.Errorf("Histogram = %v, want positive for a sustained uptrend", m.Histogram())
	}
}
