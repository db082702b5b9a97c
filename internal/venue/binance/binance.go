// Package binance is the Binance spot venue. Public data and streams go
// through go-binance; orders and account calls are signed here.
package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"tradecore/internal/account"
	"tradecore/internal/exchange"
	"tradecore/internal/market"
	ratemetrics "tradecore/internal/metrics/rate"
	"tradecore/internal/order"
	"tradecore/logger"
)

const (
	Name           = "binance"
	DefaultRestURL = "https://api.binance.com"

	amountDecimals    = 6
	keepaliveInterval = 10 * time.Second
	reconnectDelay    = 5 * time.Second
)

type (
	depthServeFunc    func(symbol string, handler gobinance.WsDepthHandler, errHandler gobinance.ErrHandler) (doneC, stopC chan struct{}, err error)
	userDataServeFunc func(listenKey string, handler gobinance.WsUserDataHandler, errHandler gobinance.ErrHandler) (doneC, stopC chan struct{}, err error)
)

// Config holds the endpoint and credentials of the venue.
type Config struct {
	RestURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	// UsedWeight reports the request weight headers as metrics.
	UsedWeight bool
}

// Binance implements exchange.Venue.
type Binance struct {
	exchange.Unimplemented

	session    *exchange.Session
	client     *gobinance.Client
	http       *http.Client
	restURL    string
	apiKey     string
	signer     exchange.HMACSHA256Hex
	nonces     *exchange.NonceSource
	usedWeight bool

	weightLimit atomic.Int64

	mu     sync.RWMutex
	prices map[string]float64

	depthServe    depthServeFunc
	userDataServe userDataServeFunc
	retryDelay    time.Duration
}

func New(session *exchange.Session, cfg Config) *Binance {
	restURL := strings.TrimSuffix(cfg.RestURL, "/")
	if restURL == "" {
		restURL = DefaultRestURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = exchange.NewHTTPClient(exchange.ClientConfig{Timeout: 10 * time.Second})
	}

	client := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = restURL
	client.HTTPClient = httpClient

	return &Binance{
		Unimplemented: exchange.Unimplemented{Venue: Name},
		session:       session,
		client:        client,
		http:          httpClient,
		restURL:       restURL,
		apiKey:        cfg.APIKey,
		signer:        exchange.HMACSHA256Hex{Secret: []byte(cfg.APISecret)},
		nonces:        exchange.NewNonceSource(time.Millisecond),
		usedWeight:    cfg.UsedWeight,
		prices:        map[string]float64{},
		depthServe:    gobinance.WsDepthServe,
		userDataServe: gobinance.WsUserDataServe,
		retryDelay:    reconnectDelay,
	}
}

func (b *Binance) Name() string { return Name }

// Init derives the rate step of every market from the current ticker, then
// opens the depth streams staggered per market and, with credentials, the
// user data stream.
func (b *Binance) Init(ctx context.Context) error {
	markets := b.session.Markets()
	if len(markets) == 0 {
		return nil
	}
	if err := b.loadPrices(ctx, markets); err != nil {
		return err
	}

	if b.usedWeight {
		limit, err := ratemetrics.FetchRequestWeightLimit(ctx, b.client)
		if err != nil {
			b.session.Log().WithError(err).Warn("failed to fetch request weight limit")
		}
		b.weightLimit.Store(limit)
	}

	delay := b.session.Settings().StaggerDelay
	b.session.Go(func(ctx context.Context) error {
		err := exchange.Stagger(ctx, len(markets), delay, func(i int) {
			m := markets[i]
			b.session.Go(func(ctx context.Context) error { return b.streamDepth(ctx, m) })
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if b.apiKey != "" {
		listenKey, err := b.client.NewStartUserStreamService().Do(ctx)
		if err != nil {
			return fmt.Errorf("start user stream: %w", err)
		}
		b.session.Go(func(ctx context.Context) error { return b.keepalive(ctx, listenKey) })
		b.session.Go(func(ctx context.Context) error { return b.streamUserData(ctx, listenKey) })
	}
	return nil
}

func (b *Binance) loadPrices(ctx context.Context, markets []*market.Market) error {
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return fmt.Errorf("list prices: %w", err)
	}
	bySymbol := make(map[string]string, len(prices))
	for _, p := range prices {
		bySymbol[p.Symbol] = p.Price
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range markets {
		pair, err := b.session.PairSymbol(m.Type)
		if err != nil {
			return err
		}
		price := exchange.ParseDecimal(bySymbol[pair])
		if price <= 0 {
			b.session.Log().WithFields(logger.Fields{"market": m.Type, "pair": pair}).Warn("no ticker price, using default step")
			continue
		}
		b.prices[m.Type] = price
		step := stepFromRate(price)
		b.session.SetExtra(m.Type, exchange.MarketExtra{
			Step:           step,
			RateDecimals:   exchange.StepDecimals(step),
			AmountLots:     1,
			AmountDecimals: amountDecimals,
		})
	}
	return nil
}

// stepFromRate guesses the tick size from the significant decimals of rate,
// capped at 1e-6 above 0.001 and 1e-8 below.
func stepFromRate(rate float64) float64 {
	stepMax := 1e-8
	if rate > 0.001 {
		stepMax = 1e-6
	}
	stepMin := 1.0
	s := strconv.FormatFloat(rate, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		stepMin = math.Pow10(-(len(s) - i - 1))
	}
	return math.Min(stepMax, stepMin)
}

type orderResponse struct {
	OrderID int64 `json:"orderId"`
}

func (b *Binance) Buy(ctx context.Context, m *market.Market, o *order.Order) error {
	return b.submit(ctx, m, o)
}

func (b *Binance) Sell(ctx context.Context, m *market.Market, o *order.Order) error {
	return b.submit(ctx, m, o)
}

func (b *Binance) submit(ctx context.Context, m *market.Market, o *order.Order) error {
	pair, err := b.session.PairSymbol(m.Type)
	if err != nil {
		return err
	}
	decimals := exchange.StepDecimals(b.session.Settings().Step)
	if extra, ok := b.session.Extra(m.Type); ok {
		decimals = extra.RateDecimals
	}
	params := url.Values{
		"symbol":      {pair},
		"side":        {strings.ToUpper(o.Side().String())},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"price":       {exchange.FormatFixed(o.Rate(), decimals)},
		"quantity":    {exchange.FormatFixed(o.Amount(), amountDecimals)},
	}

	var resp orderResponse
	if err := b.signed(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return err
	}
	return b.session.BindOrigin(o, strconv.FormatInt(resp.OrderID, 10))
}

func (b *Binance) Cancel(ctx context.Context, m *market.Market, o *order.Order) error {
	pair, err := b.session.PairSymbol(m.Type)
	if err != nil {
		return err
	}
	if o.OriginID() == "" {
		return fmt.Errorf("%s cancel %s: %w", Name, o.ID(), exchange.ErrUnknownOrder)
	}
	params := url.Values{"symbol": {pair}, "orderId": {o.OriginID()}}
	if err := b.signed(ctx, http.MethodDelete, "/api/v3/order", params, nil); err != nil {
		return err
	}
	return o.Close(order.Canceled)
}

// Move cancels o and places replacement.
func (b *Binance) Move(ctx context.Context, m *market.Market, o, replacement *order.Order) error {
	if err := b.Cancel(ctx, m, o); err != nil {
		return err
	}
	return b.submit(ctx, m, replacement)
}

type depositAddress struct {
	Address string `json:"address"`
	Coin    string `json:"coin"`
	Tag     string `json:"tag"`
}

func (b *Binance) Address(ctx context.Context, a *account.Account) error {
	asset, err := b.session.AssetSymbol(a.Type)
	if err != nil {
		return err
	}
	var resp depositAddress
	if err := b.signed(ctx, http.MethodGet, "/sapi/v1/capital/deposit/address", url.Values{"coin": {asset}}, &resp); err != nil {
		return err
	}
	a.SetAddress(resp.Address)
	return nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Balance sets the free amount of the asset; a missing asset is zero.
func (b *Binance) Balance(ctx context.Context, a *account.Account) error {
	asset, err := b.session.AssetSymbol(a.Type)
	if err != nil {
		return err
	}
	var resp accountResponse
	if err := b.signed(ctx, http.MethodGet, "/api/v3/account", nil, &resp); err != nil {
		return err
	}
	amount := 0.0
	for _, bal := range resp.Balances {
		if bal.Asset == asset {
			amount = exchange.ParseDecimal(bal.Free)
			break
		}
	}
	a.SetAmount(amount)
	return nil
}

// Minimum converts the per quote minimum to an amount at the current rate,
// falling back to the ticker price seen at init.
func (b *Binance) Minimum(m *market.Market) float64 {
	_, quote := m.Assets()
	rate := b.session.Rate(m)
	if rate <= 0 {
		b.mu.RLock()
		rate = b.prices[m.Type]
		b.mu.RUnlock()
	}
	if rate <= 0 {
		return 0
	}
	return b.session.Settings().Minimum[quote] / rate
}

func (b *Binance) Step(marketType string) float64 {
	extra, ok := b.session.Extra(marketType)
	if !ok {
		return 0
	}
	return extra.Step
}
