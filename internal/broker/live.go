// Package broker - live.go implements the Broker interface against a
// Dhan-v2-style REST API: JWT access-token auth, POST/GET/DELETE
// /v2/orders for execution, /v2/marketfeed/ltp for quotes, and a
// locally-loaded instrument master for strike/expiry resolution.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/optioncore/supertrend-engine/internal/instrument"
)

// LiveConfig holds the vendor API configuration for a live broker.
type LiveConfig struct {
	ClientID       string `json:"client_id"`
	AccessToken    string `json:"access_token"`
	BaseURL        string `json:"base_url"`
	InstrumentFile string `json:"instrument_file"`
}

// instrumentEntry is one row of the locally-loaded option chain
// master: which broker security id backs a given (root, expiry,
// strike, side) tuple.
type instrumentEntry struct {
	Root             string  `json:"root"`
	ExpiryDate       string  `json:"expiry_date"` // YYYY-MM-DD
	Strike           float64 `json:"strike"`
	Side             string  `json:"side"`
	SecurityID       string  `json:"security_id"`
	ExchangeSegment  string  `json:"exchange_segment"`
}

// LiveBroker implements Broker against a live REST venue.
type LiveBroker struct {
	config      LiveConfig
	client      *http.Client
	instruments []instrumentEntry
	indexSecIDs map[string]string // root -> index security id, for QuoteIndex
}

func init() {
	Registry["live"] = NewLiveBroker
}

// NewLiveBroker creates a live broker instance from JSON config.
func NewLiveBroker(configJSON []byte) (Broker, error) {
	var cfg LiveConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("live broker: parse config: %w", err)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("live broker: access_token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dhan.co"
	}

	b := &LiveBroker{
		config:      cfg,
		client:      &http.Client{Timeout: 30 * time.Second},
		indexSecIDs: make(map[string]string),
	}

	if cfg.InstrumentFile != "" {
		if err := b.loadInstruments(cfg.InstrumentFile); err != nil {
			return nil, fmt.Errorf("live broker: %w", err)
		}
	}

	return b, nil
}

func (b *LiveBroker) loadInstruments(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load instruments %s: %w", path, err)
	}

	var file struct {
		Options    []instrumentEntry `json:"options"`
		IndexSecID map[string]string `json:"index_security_ids"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse instruments %s: %w", path, err)
	}

	b.instruments = file.Options
	b.indexSecIDs = file.IndexSecID
	return nil
}

// ResolveOption picks the ATM strike for referenceSpot, the nearest
// non-expired weekly expiry for root, and looks up the matching
// broker security id in the loaded instrument master.
func (b *LiveBroker) ResolveOption(_ context.Context, ref instrument.Ref, referenceSpot float64, side instrument.Side) (instrument.OptionRef, error) {
	if ref.StrikeStep <= 0 {
		return instrument.OptionRef{}, &ResolveError{Root: ref.Root, Strike: referenceSpot, Reason: "strikeStep must be positive"}
	}
	strike := ref.StrikeStep * math.Round(referenceSpot/ref.StrikeStep)

	now := time.Now().UTC()
	var best *instrumentEntry
	var bestExpiry time.Time
	for i := range b.instruments {
		e := &b.instruments[i]
		if e.Root != string(ref.Root) || e.Side != string(side) || e.Strike != strike {
			continue
		}
		expiry, err := time.Parse("2006-01-02", e.ExpiryDate)
		if err != nil || expiry.Before(now) {
			continue
		}
		if best == nil || expiry.Before(bestExpiry) {
			best = e
			bestExpiry = expiry
		}
	}
	if best == nil {
		return instrument.OptionRef{}, &ResolveError{Root: ref.Root, Strike: strike, Reason: "no non-expired contract in instrument master"}
	}

	return instrument.OptionRef{
		Root:             ref.Root,
		ExpiryDate:       bestExpiry,
		Strike:           strike,
		Side:             side,
		BrokerSecurityID: best.SecurityID,
	}, nil
}

type ltpReq struct {
	SecurityIDs []string `json:"securityIds"`
}

type ltpResp struct {
	Data map[string]struct {
		LastPrice float64 `json:"lastPrice"`
	} `json:"data"`
}

func (b *LiveBroker) quote(ctx context.Context, secID string) (instrument.Tick, error) {
	respBody, err := b.doRequest(ctx, http.MethodPost, "/v2/marketfeed/ltp", ltpReq{SecurityIDs: []string{secID}})
	if err != nil {
		return instrument.Tick{}, &TransientError{Err: err}
	}
	var parsed ltpResp
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return instrument.Tick{}, &FatalError{Err: fmt.Errorf("parse ltp response: %w", err)}
	}
	entry, ok := parsed.Data[secID]
	if !ok {
		return instrument.Tick{}, &TransientError{Err: fmt.Errorf("no ltp entry for %s", secID)}
	}
	return instrument.Tick{InstrumentID: secID, WallTimeUTC: time.Now().UTC(), LastPrice: entry.LastPrice}, nil
}

func (b *LiveBroker) QuoteIndex(ctx context.Context, ref instrument.Ref) (instrument.Tick, error) {
	secID, ok := b.indexSecIDs[string(ref.Root)]
	if !ok {
		return instrument.Tick{}, &FatalError{Err: fmt.Errorf("no index security id configured for %s", ref.Root)}
	}
	return b.quote(ctx, secID)
}

func (b *LiveBroker) QuoteOption(ctx context.Context, opt instrument.OptionRef) (instrument.Tick, error) {
	return b.quote(ctx, opt.BrokerSecurityID)
}

type orderReq struct {
	DhanClientID    string  `json:"dhanClientId"`
	CorrelationID   string  `json:"correlationId,omitempty"`
	TransactionType string  `json:"transactionType"`
	ExchangeSegment string  `json:"exchangeSegment"`
	ProductType     string  `json:"productType"`
	OrderType       string  `json:"orderType"`
	Validity        string  `json:"validity"`
	SecurityID      string  `json:"securityId"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
}

type orderResp struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// PlaceMarketOrder submits a market order via POST /v2/orders, tagging
// it with intent.ClientTag as the vendor correlationId so the core's
// idempotency key is visible to the broker for dedup on retry.
func (b *LiveBroker) PlaceMarketOrder(ctx context.Context, intent OrderIntent) (string, error) {
	req := orderReq{
		DhanClientID:    b.config.ClientID,
		CorrelationID:   intent.ClientTag,
		TransactionType: string(intent.Action),
		ExchangeSegment: "NSE_FNO",
		ProductType:     "INTRADAY",
		OrderType:       "MARKET",
		Validity:        "DAY",
		SecurityID:      intent.OptionRef.BrokerSecurityID,
		Quantity:        intent.Qty,
	}

	respBody, err := b.doRequest(ctx, http.MethodPost, "/v2/orders", req)
	if err != nil {
		return "", err
	}
	var parsed orderResp
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &FatalError{Err: fmt.Errorf("parse order response: %w", err)}
	}
	return parsed.OrderID, nil
}

type orderDetailResp struct {
	OrderID            string  `json:"orderId"`
	OrderStatus        string  `json:"orderStatus"`
	FilledQty          int     `json:"filledQty"`
	AverageTradedPrice float64 `json:"averageTradedPrice"`
}

// OrderStatus polls GET /v2/orders/{id} and normalizes the vendor
// status per SPEC_FULL §4.2.
func (b *LiveBroker) OrderStatus(ctx context.Context, brokerOrderID string) (OrderStatusInfo, error) {
	respBody, err := b.doRequest(ctx, http.MethodGet, "/v2/orders/"+brokerOrderID, nil)
	if err != nil {
		return OrderStatusInfo{}, err
	}
	var detail orderDetailResp
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return OrderStatusInfo{}, &FatalError{Err: fmt.Errorf("parse order detail: %w", err)}
	}
	return OrderStatusInfo{
		Status:       NormalizeVendorStatus(detail.OrderStatus),
		AvgFillPrice: detail.AverageTradedPrice,
		FilledQty:    detail.FilledQty,
	}, nil
}

type vendorErrorResp struct {
	ErrorType    string `json:"errorType"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// doRequest makes an authenticated request to the broker's REST API,
// classifying failures as transient (retryable) or fatal per
// SPEC_FULL §4.2's error contract.
func (b *LiveBroker) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := b.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return nil, &FatalError{Err: fmt.Errorf("marshal request: %w", err)}
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", b.config.AccessToken)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &FatalError{Err: fmt.Errorf("authentication failed (401): access token may have expired")}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("vendor error %d: %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode >= 400 {
		var vErr vendorErrorResp
		if json.Unmarshal(respBody, &vErr) == nil && vErr.ErrorCode != "" {
			return nil, &FatalError{Err: fmt.Errorf("vendor error %s (%s): %s", vErr.ErrorCode, vErr.ErrorType, vErr.ErrorMessage)}
		}
		return nil, &FatalError{Err: fmt.Errorf("vendor error %d: %s", resp.StatusCode, string(respBody))}
	}

	return respBody, nil
}
