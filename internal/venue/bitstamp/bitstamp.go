// Package bitstamp is the Bitstamp venue: books and order deletions arrive
// over the public websocket, orders and balances use the signed v2 REST API.
package bitstamp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradecore/internal/account"
	"tradecore/internal/exchange"
	"tradecore/internal/market"
	ratemetrics "tradecore/internal/metrics/rate"
	"tradecore/internal/order"
	"tradecore/logger"
)

const (
	Name           = "bitstamp"
	DefaultRestURL = "https://www.bitstamp.net/api/v2/"
	DefaultWsURL   = "wss://ws.bitstamp.net"

	decimals = 8
)

// Config holds the endpoints and credentials of the venue.
type Config struct {
	RestURL    string
	WsURL      string
	APIKey     string
	APISecret  string
	CustomerID string
	// SourceIP binds the websocket to a local address.
	SourceIP   string
	HTTPClient *http.Client
}

// Bitstamp implements exchange.Venue.
type Bitstamp struct {
	exchange.Unimplemented

	session    *exchange.Session
	client     *http.Client
	restURL    string
	wsURL      string
	sourceIP   string
	apiKey     string
	customerID string
	signer     exchange.HMACSHA256UpperHex
	nonces     *exchange.NonceSource
	weights    *ratemetrics.WSWeightTracker

	retryDelay   time.Duration
	pingInterval time.Duration

	mu    sync.Mutex
	books map[string]*bookSync
}

func New(session *exchange.Session, cfg Config) *Bitstamp {
	restURL := cfg.RestURL
	if restURL == "" {
		restURL = DefaultRestURL
	}
	if !strings.HasSuffix(restURL, "/") {
		restURL += "/"
	}
	wsURL := cfg.WsURL
	if wsURL == "" {
		wsURL = DefaultWsURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = exchange.NewHTTPClient(exchange.ClientConfig{Timeout: 10 * time.Second, SourceIP: cfg.SourceIP})
	}
	return &Bitstamp{
		Unimplemented: exchange.Unimplemented{Venue: Name},
		session:       session,
		client:        client,
		restURL:       restURL,
		wsURL:         wsURL,
		sourceIP:      cfg.SourceIP,
		apiKey:        cfg.APIKey,
		customerID:    cfg.CustomerID,
		signer:        exchange.HMACSHA256UpperHex{Secret: []byte(cfg.APISecret)},
		nonces:        exchange.NewNonceSource(time.Millisecond),
		weights:       ratemetrics.NewWSWeightTracker(),
		retryDelay:    5 * time.Second,
		pingInterval:  20 * time.Second,
	}
}

func (b *Bitstamp) Name() string { return Name }

// Init opens the websocket for the markets registered on the session.
func (b *Bitstamp) Init(context.Context) error {
	markets := b.session.Markets()
	if len(markets) == 0 {
		return nil
	}
	channels := make([]string, 0, 2*len(markets))
	for _, m := range markets {
		pair, err := b.session.PairSymbol(m.Type)
		if err != nil {
			return err
		}
		channels = append(channels, bookChannel+pair, ordersChannel+pair)
	}
	b.session.Go(func(ctx context.Context) error { return b.stream(ctx, channels) })
	return nil
}

type apiError struct {
	Status string          `json:"status"`
	Reason json.RawMessage `json:"reason"`
}

// request posts a signed form to path. Each attempt carries a fresh nonce.
func (b *Bitstamp) request(ctx context.Context, path string, params url.Values, out interface{}) error {
	if b.apiKey == "" || b.customerID == "" {
		return fmt.Errorf("%s %s: missing credentials", Name, path)
	}
	return b.session.Call(ctx, path, func(int) error {
		form := url.Values{}
		for key, vals := range params {
			form[key] = append([]string(nil), vals...)
		}
		nonce := strconv.FormatInt(b.nonces.Next(), 10)
		form.Set("key", b.apiKey)
		form.Set("signature", b.signer.Sign(nonce+b.customerID+b.apiKey))
		form.Set("nonce", nonce)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.restURL+path, bytes.NewBufferString(form.Encode()))
		if err != nil {
			return fmt.Errorf("build %s request: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return b.do(req, path, out)
	})
}

// public fetches an unsigned endpoint.
func (b *Bitstamp) public(ctx context.Context, path string, out interface{}) error {
	return b.session.Call(ctx, path, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.restURL+path, nil)
		if err != nil {
			return fmt.Errorf("build %s request: %w", path, err)
		}
		return b.do(req, path, out)
	})
}

func (b *Bitstamp) do(req *http.Request, path string, out interface{}) error {
	log := b.session.Log().WithFields(logger.Fields{"path": path})
	start := time.Now()
	body, resp, err := exchange.Send(b.client, req)
	if err != nil {
		return err
	}
	logger.LogPerformanceEntry(log, Name+"_client", "api_request", time.Since(start), logger.Fields{"status": resp.StatusCode})

	var e apiError
	if json.Unmarshal(body, &e) == nil && e.Status == "error" {
		return &exchange.VenueError{Venue: Name, Path: path, Status: resp.StatusCode, Message: reason(e.Reason)}
	}
	if resp.StatusCode != http.StatusOK {
		return &exchange.VenueError{Venue: Name, Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// reason flattens the error reason, a string or a map of field errors.
func reason(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var fields map[string][]string
	if json.Unmarshal(raw, &fields) == nil {
		parts := make([]string, 0, len(fields))
		for key, msgs := range fields {
			parts = append(parts, key+": "+strings.Join(msgs, " "))
		}
		return strings.Join(parts, "; ")
	}
	return string(raw)
}

type orderResponse struct {
	ID json.Number `json:"id"`
}

func (b *Bitstamp) Buy(ctx context.Context, m *market.Market, o *order.Order) error {
	return b.submit(ctx, m, o)
}

func (b *Bitstamp) Sell(ctx context.Context, m *market.Market, o *order.Order) error {
	return b.submit(ctx, m, o)
}

func (b *Bitstamp) submit(ctx context.Context, m *market.Market, o *order.Order) error {
	pair, err := b.session.PairSymbol(m.Type)
	if err != nil {
		return err
	}
	params := url.Values{
		"price":  {exchange.FormatFixed(o.Rate(), decimals)},
		"amount": {exchange.FormatFixed(o.Amount(), decimals)},
	}
	var resp orderResponse
	if err := b.request(ctx, o.Side().String()+"/"+pair+"/", params, &resp); err != nil {
		return err
	}
	return b.session.BindOrigin(o, resp.ID.String())
}

func (b *Bitstamp) Cancel(ctx context.Context, _ *market.Market, o *order.Order) error {
	if o.OriginID() == "" {
		return fmt.Errorf("%s cancel %s: %w", Name, o.ID(), exchange.ErrUnknownOrder)
	}
	if err := b.request(ctx, "cancel_order/", url.Values{"id": {o.OriginID()}}, nil); err != nil {
		return err
	}
	return o.Close(order.Canceled)
}

// Move cancels o and places replacement.
func (b *Bitstamp) Move(ctx context.Context, m *market.Market, o, replacement *order.Order) error {
	if err := b.Cancel(ctx, m, o); err != nil {
		return err
	}
	return b.submit(ctx, m, replacement)
}

type addressResponse struct {
	Address string `json:"address"`
}

func (b *Bitstamp) Address(ctx context.Context, a *account.Account) error {
	asset, err := b.session.AssetSymbol(a.Type)
	if err != nil {
		return err
	}
	var resp addressResponse
	if err := b.request(ctx, asset+"_address/", nil, &resp); err != nil {
		return err
	}
	a.SetAddress(resp.Address)
	return nil
}

// Balance reads <asset>_available from the balance document.
func (b *Bitstamp) Balance(ctx context.Context, a *account.Account) error {
	asset, err := b.session.AssetSymbol(a.Type)
	if err != nil {
		return err
	}
	var resp map[string]json.RawMessage
	if err := b.request(ctx, "balance/", nil, &resp); err != nil {
		return err
	}
	var available string
	if raw, ok := resp[asset+"_available"]; ok {
		if json.Unmarshal(raw, &available) != nil {
			available = string(raw)
		}
	}
	a.SetAmount(exchange.ParseDecimal(available))
	return nil
}

// Minimum converts the per quote minimum to an amount at the current rate.
func (b *Bitstamp) Minimum(m *market.Market) float64 {
	_, quote := m.Assets()
	rate := b.session.Rate(m)
	if rate <= 0 {
		return 0
	}
	return b.session.Settings().Minimum[quote] / rate
}

func (b *Bitstamp) Step(string) float64 { return b.session.Settings().Step }
