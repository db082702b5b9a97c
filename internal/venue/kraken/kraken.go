// Package kraken is the Kraken venue. Books and orders are polled over the
// REST API; there is no stream.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradecore/internal/account"
	"tradecore/internal/exchange"
	"tradecore/internal/market"
	"tradecore/internal/order"
	"tradecore/logger"
)

const (
	Name           = "kraken"
	DefaultRestURL = "https://api.kraken.com/0/"
)

// Config holds the endpoint and credentials of the venue.
type Config struct {
	RestURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
}

// Kraken implements exchange.Venue.
type Kraken struct {
	exchange.Unimplemented

	session  *exchange.Session
	client   *http.Client
	restURL  string
	basePath string
	apiKey   string
	signer   *exchange.KrakenSigner
	nonces   *exchange.NonceSource

	mu      sync.Mutex
	methods map[string]string
	// placed maps origin ids to market types for lot conversion.
	placed map[string]string
}

// New builds the venue on session. The secret must be the base64 key
// issued by Kraken; an empty secret leaves only public calls usable.
func New(session *exchange.Session, cfg Config) (*Kraken, error) {
	restURL := cfg.RestURL
	if restURL == "" {
		restURL = DefaultRestURL
	}
	if !strings.HasSuffix(restURL, "/") {
		restURL += "/"
	}
	u, err := url.Parse(restURL)
	if err != nil {
		return nil, fmt.Errorf("invalid kraken rest url: %w", err)
	}

	k := &Kraken{
		Unimplemented: exchange.Unimplemented{Venue: Name},
		session:       session,
		client:        cfg.HTTPClient,
		restURL:       restURL,
		basePath:      u.Path,
		apiKey:        cfg.APIKey,
		nonces:        exchange.NewNonceSource(time.Microsecond),
		methods:       map[string]string{},
		placed:        map[string]string{},
	}
	if k.client == nil {
		k.client = exchange.NewHTTPClient(exchange.ClientConfig{Timeout: 10 * time.Second})
	}
	if cfg.APISecret != "" {
		signer, err := exchange.NewKrakenSigner(cfg.APISecret)
		if err != nil {
			return nil, err
		}
		k.signer = signer
	}
	return k, nil
}

func (k *Kraken) Name() string { return Name }

type assetPair struct {
	Altname       string `json:"altname"`
	PairDecimals  int    `json:"pair_decimals"`
	LotDecimals   int    `json:"lot_decimals"`
	LotMultiplier int    `json:"lot_multiplier"`
}

// Init loads the pair constraints, then starts the depth pollers staggered
// per market and the open order poller.
func (k *Kraken) Init(ctx context.Context) error {
	markets := k.session.Markets()
	if len(markets) == 0 {
		return nil
	}
	if err := k.loadAssetPairs(ctx, markets); err != nil {
		return err
	}

	settings := k.session.Settings()
	k.session.Go(func(ctx context.Context) error {
		return ignoreCancel(exchange.Stagger(ctx, len(markets), settings.StaggerDelay, func(i int) {
			m := markets[i]
			k.session.Go(func(ctx context.Context) error {
				poller := exchange.Poller{Name: Name + "_depth", Interval: settings.PollInterval, Log: k.session.Logger()}
				return poller.Run(ctx, func(ctx context.Context) error { return k.pollDepth(ctx, m) })
			})
		}))
	})

	if k.signer != nil {
		k.session.Go(func(ctx context.Context) error {
			poller := exchange.Poller{Name: Name + "_orders", Interval: settings.PollInterval, Log: k.session.Logger()}
			return poller.Run(ctx, k.pollOrders)
		})
	}
	return nil
}

func ignoreCancel(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

func (k *Kraken) loadAssetPairs(ctx context.Context, markets []*market.Market) error {
	pairs := make([]string, 0, len(markets))
	for _, m := range markets {
		pair, err := k.session.PairSymbol(m.Type)
		if err != nil {
			return err
		}
		pairs = append(pairs, pair)
	}

	var result map[string]assetPair
	if err := k.public(ctx, "AssetPairs", url.Values{"pair": {strings.Join(pairs, ",")}}, &result); err != nil {
		return fmt.Errorf("load asset pairs: %w", err)
	}
	for pair, info := range result {
		typ, ok := k.session.MarketType(pair)
		if !ok {
			continue
		}
		lots := float64(info.LotMultiplier)
		if lots <= 0 {
			lots = 1
		}
		k.session.SetExtra(typ, exchange.MarketExtra{
			Step:           math.Pow10(-info.PairDecimals),
			RateDecimals:   info.PairDecimals,
			AmountLots:     lots,
			AmountDecimals: info.LotDecimals,
		})
	}
	return nil
}

type depth struct {
	Asks [][]json.RawMessage `json:"asks"`
	Bids [][]json.RawMessage `json:"bids"`
}

func (k *Kraken) pollDepth(ctx context.Context, m *market.Market) error {
	pair, err := k.session.PairSymbol(m.Type)
	if err != nil {
		return err
	}
	params := url.Values{
		"pair":  {pair},
		"count": {strconv.Itoa(k.session.Settings().Depth)},
	}
	var result map[string]depth
	if err := k.public(ctx, "Depth", params, &result); err != nil {
		return err
	}
	for _, d := range result {
		snap := exchange.Snapshot{Bids: levels(d.Bids), Asks: levels(d.Asks)}
		k.session.ApplySnapshot(m, snap)
		logger.IncrementBookUpdate(Name+"_depth", len(snap.Bids)+len(snap.Asks))
		break
	}
	return nil
}

// levels parses [price, volume, timestamp] entries.
func levels(raw [][]json.RawMessage) []market.BookOrder {
	out := make([]market.BookOrder, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		var price, volume string
		if json.Unmarshal(entry[0], &price) != nil || json.Unmarshal(entry[1], &volume) != nil {
			continue
		}
		out = append(out, market.BookOrder{Rate: exchange.ParseDecimal(price), Amount: exchange.ParseDecimal(volume)})
	}
	return out
}

type orderInfo struct {
	Status  string `json:"status"`
	Vol     string `json:"vol"`
	VolExec string `json:"vol_exec"`
	Fee     string `json:"fee"`
}

func (k *Kraken) pollOrders(ctx context.Context) error {
	var ids []string
	for _, o := range k.session.Orders() {
		if id := o.OriginID(); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var result map[string]orderInfo
	if err := k.private(ctx, "QueryOrders", url.Values{"txid": {strings.Join(ids, ",")}}, &result); err != nil {
		return err
	}
	for txid, info := range result {
		o, ok := k.session.FindOrder(txid)
		if !ok {
			continue
		}
		k.applyOrderInfo(o, info)
	}
	return nil
}

func (k *Kraken) applyOrderInfo(o *order.Order, info orderInfo) {
	k.mu.Lock()
	marketType := k.placed[o.OriginID()]
	k.mu.Unlock()
	filled := exchange.ParseDecimal(info.VolExec) * k.extra(marketType).AmountLots
	fee := exchange.ParseDecimal(info.Fee)
	funded := filled
	if o.Side() == market.Sell {
		funded = filled - fee
	}
	log := k.session.Log().WithFields(logger.Fields{"order_id": o.ID(), "origin_id": o.OriginID(), "status": info.Status})

	if filled != o.AmountFilled() || fee != o.AmountFee() {
		if err := o.Update(order.WithAmountFilled(filled), order.WithAmountFunded(funded), order.WithAmountFee(fee)); err != nil {
			log.WithError(err).Debug("order update ignored")
			return
		}
	}

	switch info.Status {
	case "canceled", "expired":
		_ = o.Close(order.Canceled)
	case "closed":
		_ = o.Close("")
	default:
		return
	}
	k.forget(o)
	log.Info("order closed")
}

func (k *Kraken) forget(o *order.Order) {
	k.mu.Lock()
	for _, id := range o.OriginIDs() {
		delete(k.placed, id)
	}
	k.mu.Unlock()
}

type addOrderResult struct {
	TxID []string `json:"txid"`
}

func (k *Kraken) Buy(ctx context.Context, m *market.Market, o *order.Order) error {
	return k.submit(ctx, m, o)
}

func (k *Kraken) Sell(ctx context.Context, m *market.Market, o *order.Order) error {
	return k.submit(ctx, m, o)
}

func (k *Kraken) submit(ctx context.Context, m *market.Market, o *order.Order) error {
	pair, err := k.session.PairSymbol(m.Type)
	if err != nil {
		return err
	}
	extra := k.extra(m.Type)
	params := url.Values{
		"pair":      {pair},
		"type":      {o.Side().String()},
		"ordertype": {"limit"},
		"price":     {exchange.FormatFixed(o.Rate(), extra.RateDecimals)},
		"volume":    {exchange.FormatFixed(o.Amount()/extra.AmountLots, extra.AmountDecimals)},
	}

	var result addOrderResult
	if err := k.private(ctx, "AddOrder", params, &result); err != nil {
		return err
	}
	if len(result.TxID) == 0 {
		return &exchange.VenueError{Venue: Name, Path: "private/AddOrder", Message: "no txid returned"}
	}
	k.mu.Lock()
	for _, id := range result.TxID {
		k.placed[id] = m.Type
	}
	k.mu.Unlock()
	return k.session.BindOrigin(o, result.TxID[0], order.WithOriginIDs(result.TxID...))
}

// extra returns the pair constraints, falling back to the session step.
func (k *Kraken) extra(marketType string) exchange.MarketExtra {
	extra, ok := k.session.Extra(marketType)
	if !ok {
		step := k.session.Settings().Step
		extra = exchange.MarketExtra{Step: step, RateDecimals: exchange.StepDecimals(step), AmountDecimals: 8}
	}
	if extra.AmountLots <= 0 {
		extra.AmountLots = 1
	}
	return extra
}

func (k *Kraken) Cancel(ctx context.Context, _ *market.Market, o *order.Order) error {
	if o.OriginID() == "" {
		return fmt.Errorf("%s cancel %s: %w", Name, o.ID(), exchange.ErrUnknownOrder)
	}
	if err := k.private(ctx, "CancelOrder", url.Values{"txid": {o.OriginID()}}, nil); err != nil {
		return err
	}
	k.forget(o)
	return o.Close(order.Canceled)
}

// Move cancels o and places replacement.
func (k *Kraken) Move(ctx context.Context, m *market.Market, o, replacement *order.Order) error {
	if err := k.Cancel(ctx, m, o); err != nil {
		return err
	}
	return k.submit(ctx, m, replacement)
}

type depositMethod struct {
	Method string `json:"method"`
}

type depositAddress struct {
	Address string `json:"address"`
}

// Address uses the first deposit method of the asset, cached after the
// first lookup, and asks for a new address when none exists.
func (k *Kraken) Address(ctx context.Context, a *account.Account) error {
	asset, err := k.session.AssetSymbol(a.Type)
	if err != nil {
		return err
	}
	method, err := k.depositMethod(ctx, asset)
	if err != nil {
		return err
	}

	params := url.Values{"asset": {asset}, "method": {method}}
	var addresses []depositAddress
	if err := k.private(ctx, "DepositAddresses", params, &addresses); err != nil {
		return err
	}
	if len(addresses) == 0 {
		params.Set("new", "true")
		if err := k.private(ctx, "DepositAddresses", params, &addresses); err != nil {
			return err
		}
	}
	if len(addresses) == 0 {
		return &exchange.VenueError{Venue: Name, Path: "private/DepositAddresses", Message: "no deposit address for " + asset}
	}
	a.SetAddress(addresses[0].Address)
	return nil
}

func (k *Kraken) depositMethod(ctx context.Context, asset string) (string, error) {
	k.mu.Lock()
	method, ok := k.methods[asset]
	k.mu.Unlock()
	if ok {
		return method, nil
	}

	var methods []depositMethod
	if err := k.private(ctx, "DepositMethods", url.Values{"asset": {asset}}, &methods); err != nil {
		return "", err
	}
	if len(methods) == 0 {
		return "", &exchange.VenueError{Venue: Name, Path: "private/DepositMethods", Message: "no deposit method for " + asset}
	}

	k.mu.Lock()
	k.methods[asset] = methods[0].Method
	k.mu.Unlock()
	return methods[0].Method, nil
}

type ledgerEntry struct {
	Time    float64 `json:"time"`
	Asset   string  `json:"asset"`
	Balance string  `json:"balance"`
}

type ledgers struct {
	Ledger map[string]ledgerEntry `json:"ledger"`
}

// Balance takes the balance after the most recent ledger entry of the asset.
// An asset without entries has a zero balance.
func (k *Kraken) Balance(ctx context.Context, a *account.Account) error {
	asset, err := k.session.AssetSymbol(a.Type)
	if err != nil {
		return err
	}
	var result ledgers
	if err := k.private(ctx, "Ledgers", url.Values{"asset": {asset}}, &result); err != nil {
		return err
	}

	entries := make([]ledgerEntry, 0, len(result.Ledger))
	for _, e := range result.Ledger {
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		a.SetAmount(0)
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Time > entries[j].Time })
	a.SetAmount(exchange.ParseDecimal(entries[0].Balance))
	return nil
}

// Minimum is keyed by the base asset.
func (k *Kraken) Minimum(m *market.Market) float64 {
	base, _ := m.Assets()
	return k.session.Settings().Minimum[base]
}

func (k *Kraken) Step(marketType string) float64 {
	extra, ok := k.session.Extra(marketType)
	if !ok {
		return 0
	}
	return extra.Step
}
