// loop.go is the Engine Loop (SPEC_FULL §4.9, §5): the single
// cooperative per-strategy-instance cycle that owns the Candle
// Aggregator, IndicatorState, RiskBook, and Position as single-writer
// structures, dispatching all broker I/O onto the worker pool so a
// slow broker call never stalls the 1-second heartbeat of other
// instances sharing the process.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/optioncore/supertrend-engine/internal/broker"
	"github.com/optioncore/supertrend-engine/internal/candle"
	"github.com/optioncore/supertrend-engine/internal/clock"
	"github.com/optioncore/supertrend-engine/internal/entry"
	"github.com/optioncore/supertrend-engine/internal/execution"
	"github.com/optioncore/supertrend-engine/internal/indicator"
	"github.com/optioncore/supertrend-engine/internal/instrument"
	"github.com/optioncore/supertrend-engine/internal/journal"
	"github.com/optioncore/supertrend-engine/internal/position"
	"github.com/optioncore/supertrend-engine/internal/risk"
)

// Config is everything one strategy instance's loop needs. It is
// assembled once at instance start; the config hot-reload watcher
// (internal/config) updates the risk sub-config in place via
// UpdateConfig; the other sub-configs keep their start values.
type Config struct {
	StrategyInstanceID string
	IndexRef           instrument.Ref
	IntervalSeconds    int64
	HeartbeatInterval  time.Duration

	SuperTrendPeriod     int
	SuperTrendMultiplier float64
	UseMacd              bool
	MacdFast             int
	MacdSlow             int
	MacdSignal           int

	Risk           risk.Config
	Entry          entry.Config
	Execution      execution.Config
	CircuitBreaker risk.CircuitBreakerConfig
}

// Loop runs one strategy instance's cycle. All fields except those
// explicitly noted are single-writer, touched only from Run's
// goroutine.
type Loop struct {
	id     string
	cfg    Config
	cal    *clock.Calendar
	b      broker.Broker
	pool   *execution.WorkerPool
	exec   *execution.Executor
	store  journal.Store
	bcast  *Broadcaster
	logger *log.Logger

	indexAgg *candle.Aggregator
	st       *indicator.SuperTrend
	macd     *indicator.MACD

	riskEval  *risk.Evaluator
	riskBook  *risk.RiskBook
	breaker   *risk.CircuitBreaker
	entryEval *entry.Evaluator

	pos     *position.Position
	posOpen atomic.Bool // mirrors pos != nil for cross-goroutine reads (PositionOpen)
	seq     int64
}

// setPosition assigns l.pos and keeps posOpen in sync. Every write to
// l.pos must go through this instead of assigning the field directly.
func (l *Loop) setPosition(pos *position.Position) {
	l.pos = pos
	l.posOpen.Store(pos != nil)
}

// New builds a Loop ready to Run. store and bcast may be shared across
// many instances in the same process.
func New(cfg Config, cal *clock.Calendar, b broker.Broker, pool *execution.WorkerPool, store journal.Store, bcast *Broadcaster, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[engine:%s] ", cfg.StrategyInstanceID), log.LstdFlags)
	}
	l := &Loop{
		id:       cfg.StrategyInstanceID,
		cfg:      cfg,
		cal:      cal,
		b:        b,
		pool:     pool,
		store:    store,
		bcast:    bcast,
		logger:   logger,
		indexAgg: candle.New(string(cfg.IndexRef.Root), cfg.IntervalSeconds),
		st:       indicator.New(cfg.SuperTrendPeriod, cfg.SuperTrendMultiplier),
		riskBook: risk.NewRiskBook(clock.DateIST(cal.NowUTC())),
		breaker:  risk.NewCircuitBreaker(cfg.CircuitBreaker, logger),
	}
	if cfg.UseMacd {
		l.macd = indicator.NewMACD(cfg.MacdFast, cfg.MacdSlow, cfg.MacdSignal)
	}
	l.riskEval = risk.NewEvaluator(cfg.Risk, l.riskBook)
	l.entryEval = entry.New(cfg.Entry)
	l.exec = execution.New(b, pool, cfg.Execution, logger)
	return l
}

// Executor exposes the Order Executor so a broker.PostbackListener can
// be wired to HintFill without the engine package depending on it.
func (l *Loop) Executor() *execution.Executor { return l.exec }

// PositionOpen reports whether this instance currently holds a
// Position that isn't CLOSED. Safe to call from another goroutine;
// the InstanceRegistry consults this before honoring a graceful Stop
// (SPEC_FULL §6).
func (l *Loop) PositionOpen() bool { return l.posOpen.Load() }

// UpdateConfig swaps in a new risk config, e.g. from the config
// hot-reload watcher (SPEC_FULL §6). Only Risk is live-reloadable;
// Entry sizing (configuredLots, riskPerTradeRupees, initialStopPoints,
// minGapCandlesBetweenTrades) and structural fields (interval,
// SuperTrend period) require a restart, per SPEC_FULL §6.
func (l *Loop) UpdateConfig(risk risk.Config) {
	l.riskEval.UpdateConfig(risk)
}

// Run executes the 1-second-cadence cycle until ctx is cancelled; a
// squareOff request is handled between cycles and does not end Run
// (SPEC_FULL §4.9). It recovers any Position
// left OPEN/CLOSING from a prior crash before the first tick.
func (l *Loop) Run(ctx context.Context, squareOff <-chan struct{}) {
	l.recoverOpenPosition(ctx)

	interval := l.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-squareOff:
			l.handleSquareOff(ctx)
		case <-ticker.C:
			// runCycle is NOT wrapped in a per-tick deadline: an order
			// submission started this cycle may need the full
			// Execution.FillTimeout to resolve, far longer than one
			// heartbeat period. The ticker simply drops ticks while a
			// cycle is in flight (chan buffer of 1); only the quote
			// fetch inside runCycle carries its own short deadline.
			if err := l.runCycle(ctx); err != nil {
				l.logger.Printf("cycle error: %v", err)
			}
		}
	}
}

// recoverOpenPosition re-attaches to a Position left OPEN/CLOSING by a
// prior crash, per SPEC_FULL §4.9/§12. It reads the journal, not any
// in-memory state, since the process may have just restarted.
func (l *Loop) recoverOpenPosition(ctx context.Context) {
	open, err := l.store.OpenTrades(ctx)
	if err != nil {
		l.logger.Printf("recovery: OpenTrades failed: %v", err)
		return
	}
	for _, rec := range open {
		if rec.StrategyInstanceID != l.id {
			continue
		}
		pos := position.New(rec.TradeID, rec.OptionRef, rec.Side, rec.Qty, rec.BrokerOrderID, rec.InitialStop)
		pos.ConfirmOpen(rec.EntryTime, rec.EntryPrice)
		l.setPosition(pos)
		l.logger.Printf("recovery: reattached open position %s (%s %s @ %.2f)", rec.TradeID, rec.Side, rec.OptionRef.BrokerSecurityID, rec.EntryPrice)
		return // at most one open Position per instance (SPEC_FULL §3)
	}
}

func (l *Loop) nextClientTag(kind string) string {
	l.seq++
	return fmt.Sprintf("%s-%s-%d", l.id, kind, l.seq)
}

// runCycle implements the SPEC_FULL §4.9 seven-step cycle.
func (l *Loop) runCycle(ctx context.Context) error {
	now := l.cal.NowIST()
	l.riskBook.RolloverIfNeeded(clock.DateIST(now))

	withinSession := l.cal.WithinSession(now)
	if !withinSession && l.pos == nil {
		l.publish(now, 0)
		return nil
	}

	// Step 2: fetch ticks off the worker pool.
	var indexTick instrument.Tick
	var optionTick instrument.Tick
	haveOptionTick := false

	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			t, err := l.b.QuoteIndex(ctx, l.cfg.IndexRef)
			if err != nil {
				if broker.IsTransient(err) {
					return nil // missing tick this cycle, no synthesis
				}
				return err
			}
			indexTick = t
			return nil
		},
	}
	if l.pos != nil {
		tasks = append(tasks, func(ctx context.Context) error {
			t, err := l.b.QuoteOption(ctx, l.pos.OptionRef)
			if err != nil {
				if broker.IsTransient(err) {
					return nil
				}
				return err
			}
			optionTick = t
			haveOptionTick = true
			return nil
		})
	}
	qctx, qcancel := context.WithTimeout(ctx, broker.DefaultCallTimeout)
	err := l.pool.RunAll(qctx, tasks...)
	qcancel()
	if err != nil {
		l.breaker.RecordFailure(err.Error())
		return fmt.Errorf("quote fetch: %w", err)
	}
	l.breaker.RecordSuccess()

	// Step 3 & 4: fold index tick, update indicator on close.
	var flipped bool
	var justClosed bool
	if indexTick.LastPrice != 0 {
		if closed := l.indexAgg.Fold(indexTick.WallTimeUTC, indexTick.LastPrice); closed != nil {
			justClosed = true
			c := indicator.Candle{BoundaryStartUTC: closed.BoundaryStartUTC, High: closed.High, Low: closed.Low, Close: closed.Close}
			flipped = l.st.Update(c)
			if l.macd != nil {
				l.macd.Update(closed.Close)
			}
		}
	}

	// A CLOSING Position whose SELL was rejected (ExitOrderID cleared by
	// ClearFailedExit) goes through the exit triggers again for a retry.
	exitable := func() bool {
		if l.pos == nil {
			return false
		}
		return l.pos.State() == position.Open || (l.pos.State() == position.Closing && l.pos.ExitOrderID == "")
	}
	exitFired := false

	// Force-flat overrides everything (SPEC_FULL §4.5 trigger 7). Falls
	// through to steps 5-7 rather than returning, so the exit's
	// snapshot still publishes this cycle like every other trigger.
	if exitable() {
		if trig := risk.EvaluateForceFlat(l.cal.AtOrAfterForceFlat(now)); trig != nil {
			exitFired = true
			if err := l.exitPosition(ctx, trig.Reason); err != nil {
				return err
			}
		}
	}

	// Step 5: tick-level risk evaluator.
	if !exitFired && exitable() && haveOptionTick {
		if trig := l.riskEval.EvaluateTick(l.pos, optionTick.LastPrice); trig != nil {
			exitFired = true
			if err := l.exitPosition(ctx, trig.Reason); err != nil {
				return err
			}
		} else if justClosed {
			if trig := l.riskEval.EvaluateCandleClose(l.pos, l.st.Direction(), now); trig != nil {
				exitFired = true
				if err := l.exitPosition(ctx, trig.Reason); err != nil {
					return err
				}
			}
		}
	}

	// Step 6: entry evaluator, only when flat, on a just-closed candle,
	// and when no exit fired this cycle.
	if l.pos == nil && justClosed && !exitFired {
		gate := entry.GateInputs{
			WithinEntryWindow:     l.cal.WithinEntryWindow(now),
			DailyLossTripped:      l.riskBook.DailyLossTripped,
			TradesTakenToday:      l.riskBook.TradesTakenToday,
			CircuitBreakerTripped: l.breaker.IsTripped(),
			ClosedBoundaryUTC:     time.Unix(l.indexAgg.LastClosedBoundary(), 0).UTC(),
		}
		if cand := l.entryEval.Evaluate(gate, l.st.Direction(), flipped, l.st.WarmedUp(), l.macd, indexTick.LastPrice); cand != nil {
			if err := l.openPosition(ctx, cand, indexTick.LastPrice); err != nil {
				return err
			}
		}
	}

	// Step 7: publish snapshot.
	ltp := optionTick.LastPrice
	l.publish(now, ltp)
	return nil
}

func (l *Loop) openPosition(ctx context.Context, cand *entry.Candidate, spotAtClose float64) error {
	opt, err := l.b.ResolveOption(ctx, l.cfg.IndexRef, spotAtClose, cand.Side)
	if err != nil {
		l.breaker.RecordFailure(err.Error())
		return fmt.Errorf("resolve option: %w", err)
	}

	tag := l.nextClientTag("ENTRY")
	out, err := l.exec.SubmitAndAwaitFill(ctx, broker.OrderIntent{OptionRef: opt, Action: broker.Buy, Qty: cand.Qty, ClientTag: tag})
	if err != nil {
		l.breaker.RecordFailure(err.Error())
		return fmt.Errorf("submit entry: %w", err)
	}
	if out.TimedOut {
		l.logger.Printf("entry %s: timed out awaiting fill, abandoning attempt (no Position created)", tag)
		return nil
	}
	if out.Status == broker.StatusRejected {
		l.logger.Printf("entry %s: rejected", tag)
		return nil
	}
	l.breaker.RecordSuccess()

	tradeID := tag
	// The Position is always long the option (buy-only strategy), so
	// the initial stop sits initialStopPoints below the fill price
	// regardless of CALL/PUT.
	stopPrice := out.AvgFillPrice - l.cfg.Entry.InitialStopPoints
	pos := position.New(tradeID, opt, cand.Side, cand.Qty, out.BrokerOrderID, stopPrice)
	pos.ConfirmOpen(time.Now().UTC(), out.AvgFillPrice)
	l.setPosition(pos)

	rec := journal.TradeRecord{
		TradeID: tradeID, StrategyInstanceID: l.id, Root: opt.Root, OptionRef: opt, Side: cand.Side,
		Qty: cand.Qty, EntryTime: pos.EntryTime, EntryPrice: pos.EntryPrice, InitialStop: stopPrice, BrokerOrderID: out.BrokerOrderID,
	}
	if err := l.store.WriteOpen(ctx, rec); err != nil {
		l.logger.Printf("journal write-open failed for %s: %v", tradeID, err)
	}
	l.riskBook.IncrementTrades()
	return nil
}

func (l *Loop) exitPosition(ctx context.Context, reason string) error {
	if l.pos == nil {
		return nil
	}
	tag := l.pos.ExitOrderID
	if tag == "" {
		tag = l.nextClientTag("EXIT")
		if err := l.pos.RequestExit(tag); err != nil {
			if err == position.ErrAlreadyExiting {
				return nil
			}
			return err
		}
	}

	out, err := l.exec.SubmitAndAwaitFill(ctx, broker.OrderIntent{OptionRef: l.pos.OptionRef, Action: broker.Sell, Qty: l.pos.Qty, ClientTag: tag})
	if err != nil {
		l.breaker.RecordFailure(err.Error())
		return fmt.Errorf("submit exit: %w", err)
	}
	if out.TimedOut {
		l.logger.Printf("exit %s: timed out, remaining CLOSING and will keep polling next cycle", tag)
		return nil
	}
	if out.Status == broker.StatusRejected {
		l.logger.Printf("exit %s: rejected, clearing for retry", tag)
		l.pos.ClearFailedExit()
		return nil
	}
	l.breaker.RecordSuccess()

	realized := l.pos.ConfirmClose(out.AvgFillPrice)
	l.riskBook.RecordRealized(realized)
	closeAt := time.Now().UTC()
	if err := l.store.WriteClose(ctx, l.pos.TradeID, closeAt, out.AvgFillPrice, realized, reason); err != nil {
		l.logger.Printf("journal write-close failed for %s: %v", l.pos.TradeID, err)
	}
	l.entryEval.RecordExit(time.Unix(l.indexAgg.LastClosedBoundary(), 0).UTC())
	l.setPosition(nil)
	return nil
}

func (l *Loop) handleSquareOff(ctx context.Context) {
	if l.pos == nil || l.pos.State() != position.Open {
		return
	}
	if err := l.exitPosition(ctx, risk.ReasonManual); err != nil {
		l.logger.Printf("manual squareoff failed: %v", err)
	}
}

func (l *Loop) publish(now time.Time, ltp float64) {
	snap := Snapshot{
		StrategyInstanceID: l.id,
		AsOfUTC:            now.Unix(),
		WithinSession:      l.cal.WithinSession(now),
		Direction:          int(l.st.Direction()),
		RealizedPnlToday:   l.riskBook.RealizedPnlToday,
		TradesTakenToday:   l.riskBook.TradesTakenToday,
		DailyLossTripped:   l.riskBook.DailyLossTripped,
		CircuitBreakerTripped: l.breaker.IsTripped(),
		LateTicks:          l.indexAgg.LateTicks,
	}
	if l.pos != nil {
		snap.PositionState = string(l.pos.State())
		snap.TradeID = l.pos.TradeID
		snap.EntryPrice = l.pos.EntryPrice
		snap.LastPrice = ltp
		if ltp != 0 {
			snap.UnrealizedPnl = l.pos.UnrealizedPnl(ltp)
		}
	}
	l.bcast.Publish(snap)
}
