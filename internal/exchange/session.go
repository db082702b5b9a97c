package exchange

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/tomb.v2"

	"tradecore/internal/account"
	"tradecore/internal/market"
	"tradecore/internal/observe"
	"tradecore/internal/order"
	"tradecore/internal/symbols"
	"tradecore/logger"
)

// State is the lifecycle stage of a session.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Snapshot is a full book for both sides of one market.
type Snapshot struct {
	Bids []market.BookOrder
	Asks []market.BookOrder
}

// Session is the state shared by every venue adapter: symbol tables,
// collections and background work. Venues hold a reference to it.
type Session struct {
	name     string
	settings Settings
	accounts symbols.Mapper
	markets  symbols.Mapper
	log      *logger.Log

	mu           sync.RWMutex
	state        State
	accountList  []*account.Account
	marketList   []*market.Market
	orderList    []*order.Order
	transferList []*account.Transfer
	extras       map[string]MarketExtra

	pendingMu    sync.Mutex
	pending      map[string][]pendingReport
	pendingCount int

	orders    *observe.Subject[[]*order.Order]
	transfers *observe.Subject[[]*account.Transfer]

	tomb *tomb.Tomb
	ctx  context.Context
}

// NewSession builds the symbol tables of settings once. They are read-only
// afterwards.
func NewSession(name string, settings Settings, log *logger.Log) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	t, ctx := newTomb()
	return &Session{
		name:      name,
		settings:  settings.withDefaults(),
		accounts:  symbols.NewMapper(settings.Accounts),
		markets:   symbols.NewMapper(settings.Markets),
		log:       log,
		extras:    map[string]MarketExtra{},
		orders:    observe.New[[]*order.Order](),
		transfers: observe.New[[]*account.Transfer](),
		tomb:      t,
		ctx:       ctx,
	}
}

func (s *Session) Name() string { return s.name }

func (s *Session) Settings() Settings { return s.settings }

// Log returns an entry tagged with the session component.
func (s *Session) Log() *logger.Entry {
	return s.log.WithComponent(s.name + "_session")
}

// Logger returns the underlying logger.
func (s *Session) Logger() *logger.Log { return s.log }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.Log().WithFields(logger.Fields{"from": prev.String(), "to": state.String()}).Debug("session state changed")
}

// AddMarket creates and registers the market for typ. An existing market is
// returned as is.
func (s *Session) AddMarket(typ string) (*market.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.marketList {
		if m.Type == typ {
			return m, nil
		}
	}
	m, err := market.New(typ, s.settings.Quotes, s.settings.Depth)
	if err != nil {
		return nil, fmt.Errorf("%s: market %q: %w", s.name, typ, err)
	}
	s.marketList = append(s.marketList, m)
	return m, nil
}

// AddAccount creates and registers the account for typ. An existing account
// is returned as is.
func (s *Session) AddAccount(typ string) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accountList {
		if a.Type == typ {
			return a
		}
	}
	a := account.New(typ)
	s.accountList = append(s.accountList, a)
	return a
}

func (s *Session) Markets() []*market.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*market.Market(nil), s.marketList...)
}

func (s *Session) Accounts() []*account.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*account.Account(nil), s.accountList...)
}

// Orders returns the open orders of the session.
func (s *Session) Orders() []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*order.Order(nil), s.orderList...)
}

// Transfers returns the open transfers of the session.
func (s *Session) Transfers() []*account.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*account.Transfer(nil), s.transferList...)
}

func (s *Session) FindAccount(typ string) (*account.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accountList {
		if a.Type == typ {
			return a, true
		}
	}
	return nil, false
}

func (s *Session) FindMarket(typ string) (*market.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.marketList {
		if m.Type == typ {
			return m, true
		}
	}
	return nil, false
}

// FindOrder looks an open order up by local id or venue origin id.
func (s *Session) FindOrder(idOrOriginID string) (*order.Order, bool) {
	if idOrOriginID == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orderList {
		if o.ID() == idOrOriginID || o.OriginID() == idOrOriginID {
			return o, true
		}
	}
	return nil, false
}

// FindOrderByBookOrder returns an open order with the same side, rate and
// amount as bo.
func (s *Session) FindOrderByBookOrder(side market.Side, bo market.BookOrder) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orderList {
		if o.Matches(side, bo) {
			return o, true
		}
	}
	return nil, false
}

// ObserveOrder registers o and publishes the open order collection. The
// order is dropped from the collection on its terminal transition.
func (s *Session) ObserveOrder(o *order.Order) {
	s.mu.Lock()
	s.orderList = append(s.orderList, o)
	list := append([]*order.Order(nil), s.orderList...)
	s.mu.Unlock()
	s.orders.Next(list)

	o.Subscribe(nil, func() {
		s.mu.Lock()
		for i, item := range s.orderList {
			if item == o {
				s.orderList = append(s.orderList[:i], s.orderList[i+1:]...)
				break
			}
		}
		list := append([]*order.Order(nil), s.orderList...)
		s.mu.Unlock()
		s.orders.Next(list)
		logger.IncrementOrderClosed()
	})
}

// ObserveTransfer registers t and publishes the open transfer collection.
func (s *Session) ObserveTransfer(t *account.Transfer) {
	s.mu.Lock()
	s.transferList = append(s.transferList, t)
	list := append([]*account.Transfer(nil), s.transferList...)
	s.mu.Unlock()
	s.transfers.Next(list)

	t.Subscribe(nil, func() {
		s.mu.Lock()
		for i, item := range s.transferList {
			if item == t {
				s.transferList = append(s.transferList[:i], s.transferList[i+1:]...)
				break
			}
		}
		list := append([]*account.Transfer(nil), s.transferList...)
		s.mu.Unlock()
		s.transfers.Next(list)
	})
}

// SubscribeOrders receives the open order collection on every change. The
// last published collection is replayed.
func (s *Session) SubscribeOrders(next func([]*order.Order)) func() {
	return s.orders.Subscribe(next, nil)
}

// SubscribeTransfers receives the open transfer collection on every change.
func (s *Session) SubscribeTransfers(next func([]*account.Transfer)) func() {
	return s.transfers.Subscribe(next, nil)
}

// ApplyBookOrder applies one public book update to m. Entries matching an
// open local order are skipped. A zero amount removes the rate level. It
// reports whether the update was applied.
func (s *Session) ApplyBookOrder(m *market.Market, side market.Side, bo market.BookOrder) bool {
	if _, own := s.FindOrderByBookOrder(side, bo); own {
		return false
	}
	book := m.Book(side)
	if bo.Amount > 0 {
		book.Add(bo)
	} else {
		book.Remove(bo)
	}
	return true
}

// ApplySnapshot replaces both books of m, dropping entries that match open
// local orders.
func (s *Session) ApplySnapshot(m *market.Market, snap Snapshot) {
	m.Book(market.Buy).Reset(s.filter(market.Buy, snap.Bids))
	m.Book(market.Sell).Reset(s.filter(market.Sell, snap.Asks))
}

func (s *Session) filter(side market.Side, orders []market.BookOrder) []market.BookOrder {
	out := make([]market.BookOrder, 0, len(orders))
	for _, bo := range orders {
		if _, own := s.FindOrderByBookOrder(side, bo); own {
			continue
		}
		out = append(out, bo)
	}
	return out
}

// Rate is the midpoint of the best bid and ask, 0 if either side is empty.
func (s *Session) Rate(m *market.Market) float64 {
	bid, okBid := m.Book(market.Buy).Top()
	ask, okAsk := m.Book(market.Sell).Top()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Rate + ask.Rate) / 2
}

// AssetSymbol translates a local account type to the venue asset symbol.
func (s *Session) AssetSymbol(accountType string) (string, error) {
	v, ok := s.accounts.Venue(accountType)
	if !ok {
		return "", fmt.Errorf("%s: account %q: %w", s.name, accountType, ErrUnknownAccount)
	}
	return v, nil
}

// AccountType translates a venue asset symbol to the local account type.
func (s *Session) AccountType(assetSymbol string) (string, bool) {
	return s.accounts.Local(assetSymbol)
}

// PairSymbol translates a local market type to the venue pair symbol.
func (s *Session) PairSymbol(marketType string) (string, error) {
	v, ok := s.markets.Venue(marketType)
	if !ok {
		return "", fmt.Errorf("%s: market %q: %w", s.name, marketType, ErrUnknownMarket)
	}
	return v, nil
}

// MarketType translates a venue pair symbol to the local market type.
func (s *Session) MarketType(pairSymbol string) (string, bool) {
	return s.markets.Local(pairSymbol)
}

// MarketTypes lists every market type the venue tables know.
func (s *Session) MarketTypes() []string {
	return s.markets.Locals()
}

// SetExtra records the trading constraints of marketType.
func (s *Session) SetExtra(marketType string, extra MarketExtra) {
	s.mu.Lock()
	s.extras[marketType] = extra
	s.mu.Unlock()
}

func (s *Session) Extra(marketType string) (MarketExtra, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.extras[marketType]
	return e, ok
}

func newTomb() (*tomb.Tomb, context.Context) {
	t, ctx := tomb.WithContext(context.Background())
	// keeps the tomb alive until Close so Go can be called at any time
	t.Go(func() error {
		<-t.Dying()
		return nil
	})
	return t, ctx
}

func (s *Session) work() (*tomb.Tomb, context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tomb, s.ctx
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	_, ctx := s.work()
	return ctx
}

// Go runs fn in a goroutine tracked by the session. A non-nil error from fn
// closes the session.
func (s *Session) Go(fn func(ctx context.Context) error) {
	t, ctx := s.work()
	if !t.Alive() {
		return
	}
	t.Go(func() error { return fn(ctx) })
}

// AccountTypes lists every account type the venue tables know.
func (s *Session) AccountTypes() []string {
	return s.accounts.Locals()
}

// abortInit undoes a failed init: the markets, accounts and extras it
// registered are dropped and the work the venue started is stopped.
func (s *Session) abortInit() {
	old, _ := s.work()
	old.Kill(nil)
	if err := old.Wait(); err != nil {
		s.Log().WithError(err).Debug("venue work stopped with error")
	}
	t, ctx := newTomb()

	s.mu.Lock()
	s.marketList = nil
	s.accountList = nil
	s.extras = map[string]MarketExtra{}
	s.tomb, s.ctx = t, ctx
	s.mu.Unlock()
	s.setState(Uninitialized)
}

// Close stops all background work and waits for it.
func (s *Session) Close() error {
	t, _ := s.work()
	t.Kill(nil)
	err := t.Wait()
	s.Log().Info("session closed")
	return err
}
