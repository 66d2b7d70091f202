// broadcaster.go is the engine's state-snapshot fan-out, adapted from
// the teacher's dashboard Broadcaster: the same
// register/unregister/broadcast channel shape and non-blocking,
// drop-on-overflow send loop, retyped from *Client/WebSocketMessage to
// a single Snapshot value type per SPEC_FULL §4.9 ("State snapshot
// MUST be a value — no shared mutability with the loop").
package engine

import (
	"log"
	"sync"
)

// Snapshot is the published state of one strategy instance's cycle. It
// is always passed and stored by value.
type Snapshot struct {
	StrategyInstanceID string
	AsOfUTC            int64 // unix seconds; avoids time.Time's monotonic-reading surprises across a value copy boundary

	WithinSession bool
	PositionState string // "", "OPENING", "OPEN", "CLOSING", "CLOSED"
	TradeID       string
	EntryPrice    float64
	LastPrice     float64
	UnrealizedPnl float64

	Direction int // -1, 0, +1, mirroring indicator.Direction without importing it here

	RealizedPnlToday      float64
	TradesTakenToday      int
	DailyLossTripped      bool
	CircuitBreakerTripped bool
	LateTicks             int64
}

type subscriber struct {
	id string
	ch chan Snapshot
}

// Broadcaster fans out Snapshots to subscribers with a bounded queue
// per subscriber; a slow subscriber is dropped from that one publish,
// never blocking the others or the engine loop.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	logger *log.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.New(log.Writer(), "[broadcaster] ", log.LstdFlags)
	}
	return &Broadcaster{subs: make(map[string]*subscriber), logger: logger}
}

// Subscribe registers a new consumer with a bounded inbox of size
// bufSize and returns the receive-only channel it should read from.
func (b *Broadcaster) Subscribe(id string, bufSize int) <-chan Snapshot {
	if bufSize < 1 {
		bufSize = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{id: id, ch: make(chan Snapshot, bufSize)}
	b.subs[id] = sub
	b.logger.Printf("subscriber %s registered (total: %d)", id, len(b.subs))
	return sub.ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
		b.logger.Printf("subscriber %s unregistered (total: %d)", id, len(b.subs))
	}
}

// Publish fans snap out to every subscriber without blocking; a
// subscriber whose inbox is full has this publish dropped for it and a
// log line recorded, per SPEC_FULL §4.9's best-effort fan-out.
func (b *Broadcaster) Publish(snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- snap:
		default:
			b.logger.Printf("subscriber %s inbox full, dropping snapshot for %s", sub.id, snap.StrategyInstanceID)
		}
	}
}

// SubscriberCount reports how many consumers are currently registered.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
