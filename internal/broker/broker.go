// Package broker defines the broker adapter contract the trading core
// depends on (SPEC_FULL §4.2).
//
// Design rules (unchanged from the teacher):
//   - Only one broker is active at a time.
//   - No strategy logic inside broker.
//   - Broker layer must be stateless; all durable state lives in the
//     Trade Journal.
//   - Adapters never block the engine loop: every call is invoked from
//     the worker executor with a caller-supplied deadline.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// Action is the side of an order the core wants to place.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Status is the normalized order status the core's Order Executor
// drives its poll loop on (SPEC_FULL §4.2, §4.7). Every adapter must
// collapse vendor-specific strings into one of these four.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFilled   Status = "FILLED"
	StatusRejected Status = "REJECTED"
	StatusUnknown  Status = "UNKNOWN"
)

// ResolveError is returned by ResolveOption when no matching contract
// exists (e.g. strike/expiry combination not listed).
type ResolveError struct {
	Root  instrument.Root
	Strike float64
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("broker: resolve %s strike %.2f: %s", e.Root, e.Strike, e.Reason)
}

// TransientError wraps a quote/order failure the caller should retry
// (network blip, vendor rate limit, momentary outage).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("broker: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps a failure retrying will not fix (bad credentials,
// malformed request, account suspended).
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return fmt.Sprintf("broker: fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or a wrapped cause) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// OrderIntent is what the core submits to PlaceMarketOrder. ClientTag
// is the idempotency key the core derives from
// (strategyId, intent, monotonicSeq); it is stable across retries of
// the same logical intent (SPEC_FULL §4.2, §4.7).
type OrderIntent struct {
	OptionRef instrument.OptionRef
	Action    Action
	Qty       int
	ClientTag string
}

// OrderStatusInfo is the normalized terminal/non-terminal state of a
// previously placed order.
type OrderStatusInfo struct {
	Status       Status
	AvgFillPrice float64
	FilledQty    int
}

// Broker is the only contract between the engine core and any
// execution venue. Implementations must be stateless.
type Broker interface {
	// ResolveOption picks the ATM strike for referenceSpot (rounded to
	// the nearest strikeStep) and the nearest non-expired expiry for
	// root, returning the fully resolved contract reference.
	ResolveOption(ctx context.Context, ref instrument.Ref, referenceSpot float64, side instrument.Side) (instrument.OptionRef, error)

	// QuoteIndex returns the latest tick for the underlying index.
	QuoteIndex(ctx context.Context, ref instrument.Ref) (instrument.Tick, error)

	// QuoteOption returns the latest tick for a resolved option contract.
	QuoteOption(ctx context.Context, opt instrument.OptionRef) (instrument.Tick, error)

	// PlaceMarketOrder submits a market order and returns the broker's
	// order id. It does not wait for a fill; the Order Executor polls
	// OrderStatus separately (SPEC_FULL §4.7).
	PlaceMarketOrder(ctx context.Context, intent OrderIntent) (brokerOrderID string, err error)

	// OrderStatus returns the current normalized status of a
	// previously placed order.
	OrderStatus(ctx context.Context, brokerOrderID string) (OrderStatusInfo, error)
}

// Registry maps broker names to their factory functions, so cmd/engine
// can select paper vs. live by configuration without a switch
// statement growing per vendor.
var Registry = map[string]func(configJSON []byte) (Broker, error){}

// New creates a broker instance by name using the registry.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}

// NormalizeVendorStatus collapses a vendor's raw status string into
// the engine's four-state model. Adapters call this from their own
// OrderStatus implementation rather than hand-rolling the mapping.
func NormalizeVendorStatus(raw string) Status {
	switch raw {
	case "FILLED", "TRADED", "COMPLETE", "COMPLETED":
		return StatusFilled
	case "REJECTED", "CANCELLED":
		return StatusRejected
	case "PENDING", "OPEN", "TRIGGER_PENDING", "TRANSIT":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// DefaultCallTimeout bounds a single broker call when the caller does
// not supply a more specific deadline.
const DefaultCallTimeout = 5 * time.Second
