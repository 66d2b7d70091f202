// Package broker - paper.go implements the paper trading broker.
//
// The paper broker fills every order immediately at the last quote set
// for that instrument. It implements the same Broker interface as a
// live adapter so engine logic is identical between paper and live
// modes; only construction differs (SPEC_FULL §4.2).
package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// PaperBroker simulates order execution using whatever quote was most
// recently pushed in via SetQuote. It never blocks and never rejects
// for funds/margin reasons — the spec's paper mode exists to exercise
// the engine's control flow, not capital accounting.
type PaperBroker struct {
	mu      sync.Mutex
	quotes  map[string]instrument.Tick
	orders  map[string]*paperOrder
	nextSeq int
}

type paperOrder struct {
	intent OrderIntent
	status OrderStatusInfo
}

// NewPaperBroker creates an empty paper broker. Quotes must be pushed
// in via SetQuote before ResolveOption/QuoteIndex/QuoteOption can
// succeed; this mirrors how the engine loop feeds it live ticks.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		quotes: make(map[string]instrument.Tick),
		orders: make(map[string]*paperOrder),
	}
}

// SetQuote records the latest tick for an instrument id (the index
// root string, or a resolved option's BrokerSecurityID).
func (pb *PaperBroker) SetQuote(instrumentID string, price float64, wallTimeUTC time.Time) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.quotes[instrumentID] = instrument.Tick{InstrumentID: instrumentID, WallTimeUTC: wallTimeUTC, LastPrice: price}
}

func (pb *PaperBroker) ResolveOption(_ context.Context, ref instrument.Ref, referenceSpot float64, side instrument.Side) (instrument.OptionRef, error) {
	if ref.StrikeStep <= 0 {
		return instrument.OptionRef{}, &ResolveError{Root: ref.Root, Strike: referenceSpot, Reason: "strikeStep must be positive"}
	}
	strike := ref.StrikeStep * math.Round(referenceSpot/ref.StrikeStep)
	expiry := nextWeeklyExpiry(time.Now().UTC())
	return instrument.OptionRef{
		Root:             ref.Root,
		ExpiryDate:       expiry,
		Strike:           strike,
		Side:             side,
		BrokerSecurityID: fmt.Sprintf("PAPER-%s-%s-%.0f-%s", ref.Root, expiry.Format("20060102"), strike, side),
	}, nil
}

// nextWeeklyExpiry returns the next Thursday at or after now, the
// standard NSE weekly index-options expiry day.
func nextWeeklyExpiry(now time.Time) time.Time {
	daysUntilThursday := (int(time.Thursday) - int(now.Weekday()) + 7) % 7
	return now.AddDate(0, 0, daysUntilThursday)
}

func (pb *PaperBroker) QuoteIndex(_ context.Context, ref instrument.Ref) (instrument.Tick, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	t, ok := pb.quotes[string(ref.Root)]
	if !ok {
		return instrument.Tick{}, &TransientError{Err: fmt.Errorf("no quote set for %s", ref.Root)}
	}
	return t, nil
}

func (pb *PaperBroker) QuoteOption(_ context.Context, opt instrument.OptionRef) (instrument.Tick, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	t, ok := pb.quotes[opt.BrokerSecurityID]
	if !ok {
		return instrument.Tick{}, &TransientError{Err: fmt.Errorf("no quote set for %s", opt.BrokerSecurityID)}
	}
	return t, nil
}

// PlaceMarketOrder fills immediately at the option's last quote.
func (pb *PaperBroker) PlaceMarketOrder(_ context.Context, intent OrderIntent) (string, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	t, ok := pb.quotes[intent.OptionRef.BrokerSecurityID]
	if !ok {
		return "", &TransientError{Err: fmt.Errorf("no quote set for %s", intent.OptionRef.BrokerSecurityID)}
	}

	pb.nextSeq++
	orderID := fmt.Sprintf("PAPER-%s-%d", intent.ClientTag, pb.nextSeq)
	pb.orders[orderID] = &paperOrder{
		intent: intent,
		status: OrderStatusInfo{Status: StatusFilled, AvgFillPrice: t.LastPrice, FilledQty: intent.Qty},
	}
	return orderID, nil
}

func (pb *PaperBroker) OrderStatus(_ context.Context, brokerOrderID string) (OrderStatusInfo, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	po, ok := pb.orders[brokerOrderID]
	if !ok {
		return OrderStatusInfo{}, &FatalError{Err: fmt.Errorf("paper broker: order %s not found", brokerOrderID)}
	}
	return po.status, nil
}
