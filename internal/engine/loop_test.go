package engine

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/optioncore/supertrend-engine/internal/broker"
	"github.com/optioncore/supertrend-engine/internal/clock"
	"github.com/optioncore/supertrend-engine/internal/entry"
	"github.com/optioncore/supertrend-engine/internal/execution"
	"github.com/optioncore/supertrend-engine/internal/instrument"
	"github.com/optioncore/supertrend-engine/internal/journal"
	"github.com/optioncore/supertrend-engine/internal/position"
	"github.com/optioncore/supertrend-engine/internal/risk"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// fakeStore is an in-memory journal.Store, modeled on
// execution/executor_test.go's fakeBroker: no external dependencies,
// just mutex-guarded maps, enough to drive engine-loop integration
// tests without a database.
type fakeStore struct {
	mu     sync.Mutex
	opens  []journal.TradeRecord
	closes []closeCall
}

type closeCall struct {
	tradeID     string
	closeAt     time.Time
	exitPrice   float64
	realizedPnl float64
	exitReason  string
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (s *fakeStore) WriteOpen(_ context.Context, rec journal.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens = append(s.opens, rec)
	return nil
}

func (s *fakeStore) WriteClose(_ context.Context, tradeID string, closeAt time.Time, exitPrice, realizedPnl float64, exitReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, closeCall{tradeID, closeAt, exitPrice, realizedPnl, exitReason})
	return nil
}

func (s *fakeStore) OpenTrades(context.Context) ([]journal.TradeRecord, error) { return nil, nil }

func (s *fakeStore) SaveDayStats(context.Context, journal.DayStats) error { return nil }
func (s *fakeStore) LoadDayStats(context.Context, string, time.Time) (*journal.DayStats, error) {
	return nil, nil
}

func (s *fakeStore) SaveConfig(context.Context, journal.ConfigRow) error { return nil }
func (s *fakeStore) LoadConfig(context.Context, string) (*journal.ConfigRow, error) {
	return nil, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close()                     {}

func (s *fakeStore) lastClose() (closeCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.closes) == 0 {
		return closeCall{}, false
	}
	return s.closes[len(s.closes)-1], true
}

// loopTestBroker is a fake broker.Broker for engine-loop tests: index
// ticks are fed from a queue (one per QuoteIndex call), option quotes
// are a fixed price, and order placement/fill behavior is
// controllable so both the immediate-fill and still-pending shapes can
// be exercised.
type loopTestBroker struct {
	mu sync.Mutex

	indexTicks []instrument.Tick
	optionLTP  float64

	placed       []broker.OrderIntent
	fillPrice    float64
	neverTerminal bool // when true, OrderStatus always reports PENDING
}

func newLoopTestBroker() *loopTestBroker {
	return &loopTestBroker{fillPrice: 40}
}

func (b *loopTestBroker) pushIndexTicks(ticks ...instrument.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.indexTicks = append(b.indexTicks, ticks...)
}

func (b *loopTestBroker) ResolveOption(context.Context, instrument.Ref, float64, instrument.Side) (instrument.OptionRef, error) {
	return instrument.OptionRef{}, nil
}

func (b *loopTestBroker) QuoteIndex(context.Context, instrument.Ref) (instrument.Tick, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.indexTicks) == 0 {
		return instrument.Tick{}, nil
	}
	t := b.indexTicks[0]
	b.indexTicks = b.indexTicks[1:]
	return t, nil
}

func (b *loopTestBroker) QuoteOption(context.Context, instrument.OptionRef) (instrument.Tick, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return instrument.Tick{WallTimeUTC: time.Now(), LastPrice: b.optionLTP}, nil
}

func (b *loopTestBroker) PlaceMarketOrder(_ context.Context, intent broker.OrderIntent) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, intent)
	return "ORD-" + intent.ClientTag, nil
}

func (b *loopTestBroker) OrderStatus(_ context.Context, brokerOrderID string) (broker.OrderStatusInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.neverTerminal {
		return broker.OrderStatusInfo{Status: broker.StatusPending}, nil
	}
	return broker.OrderStatusInfo{Status: broker.StatusFilled, AvgFillPrice: b.fillPrice, FilledQty: 75}, nil
}

func (b *loopTestBroker) sellCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.placed {
		if o.Action == broker.Sell {
			n++
		}
	}
	return n
}

func testCalendar(t *testing.T, forceFlatIST string) *clock.Calendar {
	t.Helper()
	cal, err := clock.NewCalendarFromHolidays(nil, clock.Config{
		EntryOpenIST:  "09:15",
		EntryCloseIST: "15:00",
		ForceFlatIST:  forceFlatIST,
	})
	if err != nil {
		t.Fatalf("NewCalendarFromHolidays: %v", err)
	}
	return cal
}

func testLoopConfig() Config {
	return Config{
		StrategyInstanceID:   "test-instance",
		IndexRef:             instrument.Ref{Root: instrument.NIFTY, LotSize: 75, StrikeStep: 50},
		IntervalSeconds:      60,
		HeartbeatInterval:    time.Second,
		SuperTrendPeriod:     3,
		SuperTrendMultiplier: 2.0,
		Risk:                 risk.Config{}, // every tick-level trigger disabled; isolates the reversal path
		Entry:                entry.Config{MaxTradesPerDay: 1, IntervalSeconds: 60, ConfiguredLots: 1, LotSize: 75, StrikeStep: 50},
		Execution:            execution.Config{PollInterval: time.Millisecond, FillTimeout: 200 * time.Millisecond},
		CircuitBreaker:       risk.CircuitBreakerConfig{},
	}
}

func openTestPosition(side instrument.Side, entryPrice float64) *position.Position {
	pos := position.New("T1", instrument.OptionRef{Root: instrument.NIFTY, Side: side, BrokerSecurityID: "NIFTY-OPT"}, side, 75, "OPEN-1", 0)
	// Zero EntryTime makes EvaluateCandleClose's MinHoldSeconds check
	// trivially pass regardless of wall-clock time.
	pos.ConfirmOpen(time.Time{}, entryPrice)
	return pos
}

// TestLoop_ReversalExit drives the SuperTrend through warm-up and a
// direction flip against a pre-seeded PUT position, and confirms the
// candle-close reversal trigger (S1) closes it with exactly one SELL.
//
// The Loop is seeded with an already-OPEN position before any cycle
// runs so the entry evaluator (step 6, the only step that reads
// Calendar.WithinEntryWindow/the real wall-clock weekday) never
// executes; every cycle below exercises only the exit side of the
// loop.
func TestLoop_ReversalExit(t *testing.T) {
	fb := newLoopTestBroker()
	fb.optionLTP = 40 // flat option price; Risk is all-zero so EvaluateTick never fires on it anyway

	store := newFakeStore()
	bcast := NewBroadcaster(testLogger())
	pool := execution.NewWorkerPool(4)
	cal := testCalendar(t, "15:25")

	l := New(testLoopConfig(), cal, fb, pool, store, bcast, testLogger())
	l.setPosition(openTestPosition(instrument.PUT, 40))

	t0 := time.Unix(1700000000, 0).UTC()
	prices := []float64{100, 101, 103, 150, 160}
	for i, p := range prices {
		fb.pushIndexTicks(instrument.Tick{
			InstrumentID: "NIFTY",
			WallTimeUTC:  t0.Add(time.Duration(i*60) * time.Second),
			LastPrice:    p,
		})
	}

	ctx := context.Background()
	for i := 0; i < len(prices); i++ {
		if err := l.runCycle(ctx); err != nil {
			t.Fatalf("runCycle[%d]: %v", i, err)
		}
	}

	if l.PositionOpen() {
		t.Fatal("expected position to be closed after the reversal flip")
	}
	if got := fb.sellCount(); got != 1 {
		t.Fatalf("sellCount = %d, want exactly 1", got)
	}
	cc, ok := store.lastClose()
	if !ok {
		t.Fatal("expected a WriteClose call")
	}
	if cc.exitReason != risk.ReasonReversal {
		t.Fatalf("exitReason = %q, want %q", cc.exitReason, risk.ReasonReversal)
	}
}

// TestLoop_ForceFlatPublishesSnapshotSameCycle exercises S5: a
// force-flat exit, already due at cycle start, must close the
// position and still publish the cycle's snapshot (the fall-through
// fix for the force-flat branch), rather than returning before step 7
// like every other trigger's path.
func TestLoop_ForceFlatPublishesSnapshotSameCycle(t *testing.T) {
	fb := newLoopTestBroker()
	fb.optionLTP = 55

	store := newFakeStore()
	bcast := NewBroadcaster(testLogger())
	pool := execution.NewWorkerPool(4)
	// "00:00" makes AtOrAfterForceFlat true at any wall-clock time.
	cal := testCalendar(t, "00:00")

	l := New(testLoopConfig(), cal, fb, pool, store, bcast, testLogger())
	l.setPosition(openTestPosition(instrument.CALL, 50))

	snaps := bcast.Subscribe("test-sub", 4)

	if err := l.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if l.PositionOpen() {
		t.Fatal("expected force-flat to close the position")
	}
	cc, ok := store.lastClose()
	if !ok || cc.exitReason != risk.ReasonForceFlat {
		t.Fatalf("expected a WriteClose with reason %q, got %+v (ok=%v)", risk.ReasonForceFlat, cc, ok)
	}
	if got := fb.sellCount(); got != 1 {
		t.Fatalf("sellCount = %d, want exactly 1", got)
	}

	select {
	case <-snaps:
	default:
		t.Fatal("expected a snapshot to publish in the same cycle as the force-flat exit")
	}
}

// TestLoop_ExitPosition_StableClientTagAcrossRetries exercises S6: a
// Position already CLOSING keeps the same ExitOrderID no matter how
// many times exitPosition is invoked against it, so any resubmission
// carries the same idempotency key the broker dedupes on — never a
// second distinct SELL identity. A third RequestExit call on the
// Position directly must fail with ErrAlreadyExiting.
func TestLoop_ExitPosition_StableClientTagAcrossRetries(t *testing.T) {
	fb := newLoopTestBroker()
	fb.neverTerminal = true // keeps the Position CLOSING across calls

	store := newFakeStore()
	bcast := NewBroadcaster(testLogger())
	pool := execution.NewWorkerPool(4)
	cal := testCalendar(t, "15:25")

	cfg := testLoopConfig()
	cfg.Execution = execution.Config{PollInterval: time.Millisecond, FillTimeout: 15 * time.Millisecond}
	l := New(cfg, cal, fb, pool, store, bcast, testLogger())
	l.setPosition(openTestPosition(instrument.PUT, 40))

	ctx := context.Background()
	if err := l.exitPosition(ctx, risk.ReasonManual); err != nil {
		t.Fatalf("exitPosition (first): %v", err)
	}
	if !l.PositionOpen() {
		t.Fatal("position must still be open (CLOSING) after a timed-out exit attempt")
	}
	if err := l.exitPosition(ctx, risk.ReasonManual); err != nil {
		t.Fatalf("exitPosition (retry): %v", err)
	}

	if got := fb.sellCount(); got < 2 {
		t.Fatalf("sellCount = %d, want at least 2 broker submissions to demonstrate tag stability", got)
	}
	firstTag := fb.placed[0].ClientTag
	for i, o := range fb.placed {
		if o.ClientTag != firstTag {
			t.Fatalf("placed[%d].ClientTag = %q, want %q: every resubmission must reuse the same idempotency key", i, o.ClientTag, firstTag)
		}
	}

	if err := l.pos.RequestExit("some-other-tag"); err != position.ErrAlreadyExiting {
		t.Fatalf("RequestExit on an already-CLOSING position = %v, want ErrAlreadyExiting", err)
	}
}
