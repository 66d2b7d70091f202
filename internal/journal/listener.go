// listener.go subscribes to the trade_journal_changed NOTIFY channel
// (SPEC_FULL §4.8, §11), grounded directly on the teacher's dashboard
// event listener: the same pq.NewListener retry-loop shape, retargeted
// from the dashboard's {trade_closed, position_opened, ...} channel set
// onto the journal's single changed-channel.
package journal

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// ChangeEvent is the broker-agnostic shape handlers receive for a
// journal write, decoded from the NOTIFY payload ("open:<tradeId>" or
// "close:<tradeId>").
type ChangeEvent struct {
	Kind    string // "open" or "close"
	TradeID string
}

// ChangeHandler is invoked for every notification received.
type ChangeHandler func(ChangeEvent)

// Listener wraps a pq.Listener bound to ChangedChannel and dispatches
// decoded events to registered handlers.
type Listener struct {
	dbURL    string
	logger   *log.Logger
	handlers []ChangeHandler
	shutdown chan struct{}
}

// NewListener creates a Listener. Start must be called to begin
// consuming notifications.
func NewListener(dbURL string, logger *log.Logger) *Listener {
	return &Listener{dbURL: dbURL, logger: logger, shutdown: make(chan struct{})}
}

// OnChange registers a handler for every decoded notification.
func (l *Listener) OnChange(h ChangeHandler) {
	l.handlers = append(l.handlers, h)
}

// Start begins the listen loop in the background.
func (l *Listener) Start(ctx context.Context) {
	go l.listenLoop(ctx)
}

// Stop ends the listen loop.
func (l *Listener) Stop() { close(l.shutdown) }

func (l *Listener) listenLoop(ctx context.Context) {
	defer l.logger.Println("journal listener: shutting down")

	minRetryDelay := 100 * time.Millisecond
	maxRetryDelay := 10 * time.Second
	retryDelay := minRetryDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
		}

		listener := pq.NewListener(l.dbURL, minRetryDelay, maxRetryDelay, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				l.logger.Printf("journal listener: %v", err)
			}
		})

		if err := listener.Listen(ChangedChannel); err != nil {
			l.logger.Printf("journal listener: failed to listen on %s: %v", ChangedChannel, err)
			listener.Close()
			retryDelay = maxRetryDelay
			time.Sleep(retryDelay)
			continue
		}
		l.logger.Printf("journal listener: listening on channel %q", ChangedChannel)

		retryDelay = minRetryDelay
		if err := l.handleNotifications(ctx, listener); err != nil {
			l.logger.Printf("journal listener: %v", err)
		}
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
			time.Sleep(retryDelay)
		}
	}
}

func (l *Listener) handleNotifications(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.shutdown:
			return nil
		case notification := <-listener.Notify:
			if notification == nil {
				return nil
			}
			ev := decodeChangeEvent(notification.Extra)
			for _, h := range l.handlers {
				h(ev)
			}
		}
	}
}

func decodeChangeEvent(extra string) ChangeEvent {
	for i := 0; i < len(extra); i++ {
		if extra[i] == ':' {
			return ChangeEvent{Kind: extra[:i], TradeID: extra[i+1:]}
		}
	}
	return ChangeEvent{Kind: "unknown", TradeID: extra}
}
