package entry

import (
	"testing"
	"time"

	"github.com/optioncore/supertrend-engine/internal/indicator"
	"github.com/optioncore/supertrend-engine/internal/instrument"
)

func baseConfig() Config {
	return Config{
		MaxTradesPerDay:            5,
		MinGapCandlesBetweenTrades: 2,
		IntervalSeconds:            60,
		ConfiguredLots:             1,
		LotSize:                    75,
		StrikeStep:                 100,
	}
}

func openGate(boundary time.Time) GateInputs {
	return GateInputs{
		WithinEntryWindow: true,
		ClosedBoundaryUTC: boundary,
	}
}

func TestEvaluate_NoFlipSkips(t *testing.T) {
	e := New(baseConfig())
	g := openGate(time.Unix(0, 0).UTC())
	if c := e.Evaluate(g, indicator.Up, false, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate without flip = %+v, want nil", c)
	}
}

func TestEvaluate_GateClosedByEntryWindow(t *testing.T) {
	e := New(baseConfig())
	g := openGate(time.Unix(0, 0).UTC())
	g.WithinEntryWindow = false
	if c := e.Evaluate(g, indicator.Up, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate outside entry window = %+v, want nil", c)
	}
}

func TestEvaluate_GateClosedByDailyLoss(t *testing.T) {
	e := New(baseConfig())
	g := openGate(time.Unix(0, 0).UTC())
	g.DailyLossTripped = true
	if c := e.Evaluate(g, indicator.Up, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate with daily loss tripped = %+v, want nil", c)
	}
}

func TestEvaluate_GateClosedByMaxTradesPerDay(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTradesPerDay = 2
	e := New(cfg)
	g := openGate(time.Unix(0, 0).UTC())
	g.TradesTakenToday = 2
	if c := e.Evaluate(g, indicator.Up, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate at max trades = %+v, want nil", c)
	}
}

func TestEvaluate_GateClosedByMinGapCandles(t *testing.T) {
	cfg := baseConfig()
	cfg.MinGapCandlesBetweenTrades = 3
	e := New(cfg)
	e.RecordExit(time.Unix(0, 0).UTC())

	// Only 1 candle (60s) has elapsed since the exit; gap gate needs 3.
	g := openGate(time.Unix(60, 0).UTC())
	if c := e.Evaluate(g, indicator.Up, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate before gap elapsed = %+v, want nil", c)
	}

	g2 := openGate(time.Unix(180, 0).UTC())
	if c := e.Evaluate(g2, indicator.Up, true, true, nil, 20000); c == nil {
		t.Fatalf("Evaluate after gap elapsed = nil, want a Candidate")
	}
}

func TestEvaluate_GateClosedByCircuitBreaker(t *testing.T) {
	e := New(baseConfig())
	g := openGate(time.Unix(0, 0).UTC())
	g.CircuitBreakerTripped = true
	if c := e.Evaluate(g, indicator.Up, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate with breaker tripped = %+v, want nil", c)
	}
}

func TestEvaluate_DirectionMapsToSideAndStrike(t *testing.T) {
	e := New(baseConfig())
	g := openGate(time.Unix(0, 0).UTC())

	c := e.Evaluate(g, indicator.Up, true, true, nil, 20050)
	if c == nil {
		t.Fatalf("Evaluate = nil, want a CALL candidate")
	}
	if c.Side != instrument.CALL {
		t.Errorf("Side = %v, want CALL", c.Side)
	}
	if c.Strike != 20100 {
		t.Errorf("Strike = %v, want 20100 (20050 is a tie; math.Round rounds half away from zero)", c.Strike)
	}

	c2 := e.Evaluate(g, indicator.Down, true, true, nil, 20050)
	if c2 == nil || c2.Side != instrument.PUT {
		t.Fatalf("Evaluate with Down direction = %+v, want a PUT candidate", c2)
	}
}

func TestEvaluate_NoneDirectionSkips(t *testing.T) {
	e := New(baseConfig())
	g := openGate(time.Unix(0, 0).UTC())
	if c := e.Evaluate(g, indicator.None, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate with None direction = %+v, want nil", c)
	}
}

func TestEvaluate_MacdConfirmationRequired(t *testing.T) {
	cfg := baseConfig()
	cfg.UseMacd = true
	e := New(cfg)
	g := openGate(time.Unix(0, 0).UTC())

	// No MACD state at all: confirmation fails closed.
	if c := e.Evaluate(g, indicator.Up, true, true, nil, 20000); c != nil {
		t.Fatalf("Evaluate with useMacd and nil macd = %+v, want nil", c)
	}

	macd := indicator.NewMACD(2, 4, 2)
	for _, p := range []float64{100, 102, 104, 106, 108, 110, 112} {
		macd.Update(p)
	}
	// Histogram should be positive (uptrend), agreeing with CALL.
	if c := e.Evaluate(g, indicator.Up, true, true, macd, 20000); c == nil {
		t.Fatalf("Evaluate with agreeing MACD confirmation = nil, want a Candidate")
	}
	// PUT candidate disagrees with a positive histogram, so it's skipped.
	if c := e.Evaluate(g, indicator.Down, true, true, macd, 20000); c != nil {
		t.Fatalf("Evaluate with disagreeing MACD confirmation = %+v, want nil", c)
	}
}

func TestSizeLots_RiskBasedSizing(t *testing.T) {
	cfg := baseConfig()
	cfg.RiskPerTradeRupees = 3000
	cfg.InitialStopPoints = 20
	cfg.LotSize = 75
	e := New(cfg)
	// floor(3000 / (20*75)) = floor(2.0) = 2
	if got := e.sizeLots(); got != 2 {
		t.Errorf("sizeLots() = %d, want 2", got)
	}
}

func TestSizeLots_FloorsToAtLeastOneLot(t *testing.T) {
	cfg := baseConfig()
	cfg.RiskPerTradeRupees = 100
	cfg.InitialStopPoints = 20
	cfg.LotSize = 75
	e := New(cfg)
	if got := e.sizeLots(); got != 1 {
		t.Errorf("sizeLots() = %d, want 1 (floored up from < 1)", got)
	}
}
