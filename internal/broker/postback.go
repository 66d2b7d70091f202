// postback.go implements the optional asynchronous order-postback
// listener described in SPEC_FULL §4.2: a live adapter MAY expose an
// inbound HTTP receiver that resolves fills faster than polling, but
// it is purely a latency optimization — the Order Executor's
// poll-until-terminal loop remains the source of truth for
// terminality, and a postback that never arrives must never stall it.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// PostbackConfig controls the inbound listener.
type PostbackConfig struct {
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
}

// vendorPostback is the JSON body the venue POSTs whenever an order's
// status changes.
type vendorPostback struct {
	OrderID            string  `json:"orderId"`
	CorrelationID      string  `json:"correlationId"`
	OrderStatus        string  `json:"orderStatus"`
	FilledQty          int     `json:"filledQty"`
	AverageTradedPrice float64 `json:"averageTradedPrice"`
}

// FillHint is the broker-agnostic shape handed to registered callbacks.
// ClientTag echoes the idempotency tag the core supplied when placing
// the order, letting the Order Executor match the hint to its
// in-flight poll without re-parsing vendor fields.
type FillHint struct {
	BrokerOrderID string
	ClientTag     string
	Status        Status
	FilledQty     int
	AvgFillPrice  float64
	ReceivedAt    time.Time
}

// FillHintHandler is invoked for every validated postback. It must
// return quickly: the Order Executor should treat this as "poll now"
// signal, not perform blocking work inline.
type FillHintHandler func(FillHint)

// PostbackListener is the HTTP receiver for asynchronous fill hints.
type PostbackListener struct {
	cfg      PostbackConfig
	logger   *log.Logger
	srv      *http.Server
	mu       sync.RWMutex
	handlers []FillHintHandler
}

// NewPostbackListener creates a listener. It does not bind a port
// until Start is called.
func NewPostbackListener(cfg PostbackConfig, logger *log.Logger) *PostbackListener {
	return &PostbackListener{cfg: cfg, logger: logger}
}

// OnFillHint registers a callback for every validated postback.
func (p *PostbackListener) OnFillHint(h FillHintHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Start begins listening for postback HTTP requests in the background.
func (p *PostbackListener) Start() error {
	if !p.cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	path := p.cfg.Path
	if path == "" {
		path = "/broker/postback/order"
	}
	mux.HandleFunc(path, p.handlePostback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf(":%d", p.cfg.Port)
	p.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	p.logger.Printf("[broker-postback] starting listener on %s%s", addr, path)
	go func() {
		if err := p.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Printf("[broker-postback] listener error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the listener.
func (p *PostbackListener) Shutdown(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	p.logger.Println("[broker-postback] shutting down")
	return p.srv.Shutdown(ctx)
}

func (p *PostbackListener) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var pb vendorPostback
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
		p.logger.Printf("[broker-postback] invalid JSON payload: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if pb.OrderID == "" {
		http.Error(w, "missing orderId", http.StatusBadRequest)
		return
	}

	hint := FillHint{
		BrokerOrderID: pb.OrderID,
		ClientTag:     pb.CorrelationID,
		Status:        NormalizeVendorStatus(pb.OrderStatus),
		FilledQty:     pb.FilledQty,
		AvgFillPrice:  pb.AverageTradedPrice,
		ReceivedAt:    time.Now(),
	}

	p.mu.RLock()
	handlers := make([]FillHintHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	for _, h := range handlers {
		h(hint)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"received":true}`)
}
