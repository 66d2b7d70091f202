// executor.go implements the Order Executor's exactly-once submit/poll
// contract (SPEC_FULL §4.7), grounded on the teacher's
// pollOrderStatus/isTerminalOrderStatus polling loop, generalized from
// a single Dhan-shaped status enum to the broker package's normalized
// four-state model.
package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/optioncore/supertrend-engine/internal/broker"
)

// Outcome is the exactly-once-per-intent result of SubmitAndAwaitFill.
type Outcome struct {
	BrokerOrderID string
	Status        broker.Status // FILLED or REJECTED when TimedOut is false
	AvgFillPrice  float64
	FilledQty     int
	TimedOut      bool // status was still PENDING/UNKNOWN at deadline; no fill is fabricated
}

// Config carries the polling cadence.
type Config struct {
	PollInterval time.Duration
	FillTimeout  time.Duration
}

// Executor places orders and polls them to a terminal state. It never
// fabricates a fill: a TIMEOUT outcome leaves the caller to decide the
// BUY/SELL-specific recovery per SPEC_FULL §4.7.
type Executor struct {
	b      broker.Broker
	pool   *WorkerPool
	cfg    Config
	logger *log.Logger

	mu   sync.Mutex
	wake map[string]chan struct{} // brokerOrderID -> wake channel, for postback hints
}

// New builds an Executor backed by pool for all broker I/O.
func New(b broker.Broker, pool *WorkerPool, cfg Config, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[order-executor] ", log.LstdFlags)
	}
	return &Executor{b: b, pool: pool, cfg: cfg, logger: logger, wake: make(map[string]chan struct{})}
}

// HintFill is wired to broker.PostbackListener.OnFillHint: it wakes an
// in-progress poll early. It is purely a latency optimization — a hint
// that never arrives must never stall pollUntilTerminal, which keeps
// polling on its own cadence regardless (SPEC_FULL §4.2).
func (e *Executor) HintFill(hint broker.FillHint) {
	e.mu.Lock()
	ch, ok := e.wake[hint.BrokerOrderID]
	e.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Executor) registerWake(brokerOrderID string) chan struct{} {
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	e.wake[brokerOrderID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Executor) unregisterWake(brokerOrderID string) {
	e.mu.Lock()
	delete(e.wake, brokerOrderID)
	e.mu.Unlock()
}

// SubmitAndAwaitFill places intent via PlaceMarketOrder and polls
// OrderStatus until terminal or timeout. Both broker calls run on the
// worker pool's goroutines; the caller blocks until the outcome is
// known (SPEC_FULL §4.7, §5). intent.ClientTag MUST be the same string on
// every retry of the same logical intent.
func (e *Executor) SubmitAndAwaitFill(ctx context.Context, intent broker.OrderIntent) (Outcome, error) {
	var brokerOrderID string
	err := e.pool.RunAll(ctx, func(ctx context.Context) error {
		id, err := e.b.PlaceMarketOrder(ctx, intent)
		if err != nil {
			return fmt.Errorf("place order (tag=%s): %w", intent.ClientTag, err)
		}
		brokerOrderID = id
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err = e.pool.RunAll(ctx, func(ctx context.Context) error {
		o, err := e.pollUntilTerminal(ctx, brokerOrderID)
		out = o
		return err
	})
	return out, err
}

// pollUntilTerminal implements the teacher's immediate-check-then-tick
// loop, collapsing vendor statuses via broker.NormalizeVendorStatus
// (already applied inside OrderStatus) and additionally listening for
// a postback-delivered wake to shortcut the next tick.
func (e *Executor) pollUntilTerminal(ctx context.Context, brokerOrderID string) (Outcome, error) {
	status, err := e.b.OrderStatus(ctx, brokerOrderID)
	if err != nil {
		return Outcome{}, fmt.Errorf("poll order %s: %w", brokerOrderID, err)
	}
	if isTerminal(status.Status) {
		return toOutcome(brokerOrderID, status, false), nil
	}

	wake := e.registerWake(brokerOrderID)
	defer e.unregisterWake(brokerOrderID)

	deadline := time.Now().Add(e.cfg.FillTimeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return toOutcome(brokerOrderID, status, true), ctx.Err()
		case <-wake:
			// Postback hint: check now instead of waiting for the tick.
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			e.logger.Printf("%s: timeout after %v, last=%s filled=%d", brokerOrderID, e.cfg.FillTimeout, status.Status, status.FilledQty)
			return toOutcome(brokerOrderID, status, true), nil
		}

		status, err = e.b.OrderStatus(ctx, brokerOrderID)
		if err != nil {
			if broker.IsTransient(err) {
				e.logger.Printf("%s: transient status check failure: %v", brokerOrderID, err)
				continue
			}
			return Outcome{}, fmt.Errorf("poll order %s: %w", brokerOrderID, err)
		}
		if isTerminal(status.Status) {
			return toOutcome(brokerOrderID, status, false), nil
		}
	}
}

func isTerminal(s broker.Status) bool {
	return s == broker.StatusFilled || s == broker.StatusRejected
}

func toOutcome(brokerOrderID string, s broker.OrderStatusInfo, timedOut bool) Outcome {
	return Outcome{
		BrokerOrderID: brokerOrderID,
		Status:        s.Status,
		AvgFillPrice:  s.AvgFillPrice,
		FilledQty:     s.FilledQty,
		TimedOut:      timedOut,
	}
}
