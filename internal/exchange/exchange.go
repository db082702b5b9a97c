package exchange

import (
	"context"
	"fmt"
	"time"

	"tradecore/internal/account"
	"tradecore/internal/market"
	"tradecore/internal/order"
	"tradecore/logger"
)

// accountStagger spaces the refresh of the assets of one market.
const accountStagger = 33 * time.Millisecond

// Options tune Init.
type Options struct {
	// Trade refreshes the address and balance of every account in the
	// background once the session is ready.
	Trade bool
}

// Exchange is a venue session: shared state plus the venue capabilities.
type Exchange struct {
	*Session
	venue Venue
}

// New combines session with venue. venue must have been built with session.
func New(session *Session, venue Venue) *Exchange {
	return &Exchange{Session: session, venue: venue}
}

func (e *Exchange) Venue() Venue { return e.venue }

// Init registers marketTypes, every market of the venue tables when empty,
// and one account per configured asset, then starts the venue feeds. A
// market type that does not decompose fails the whole init. A failed init
// leaves the session empty and Uninitialized, so it can be retried.
func (e *Exchange) Init(ctx context.Context, marketTypes []string, opts Options) ([]*market.Market, error) {
	if st := e.State(); st != Uninitialized {
		return nil, fmt.Errorf("%s: init in state %s", e.Name(), st)
	}
	e.setState(Initializing)

	if len(marketTypes) == 0 {
		marketTypes = e.MarketTypes()
	}

	markets := make([]*market.Market, 0, len(marketTypes))
	for _, typ := range marketTypes {
		m, err := e.AddMarket(typ)
		if err != nil {
			e.abortInit()
			return nil, err
		}
		markets = append(markets, m)
	}

	for _, typ := range e.AccountTypes() {
		e.AddAccount(typ)
	}

	if err := e.venue.Init(ctx); err != nil {
		e.abortInit()
		return nil, fmt.Errorf("%s: init: %w", e.Name(), err)
	}
	e.setState(Ready)

	e.Log().WithFields(logger.Fields{
		"markets":  marketTypes,
		"accounts": len(e.Accounts()),
		"trade":    opts.Trade,
	}).Info("exchange ready")

	if opts.Trade {
		e.refreshAccounts(e.accountGroups(markets))
	}
	return markets, nil
}

// accountGroups orders the accounts for refresh: the assets of each market
// in turn, then the accounts no market uses.
func (e *Exchange) accountGroups(markets []*market.Market) [][]*account.Account {
	seen := map[string]bool{}
	out := make([][]*account.Account, 0, len(markets)+1)
	for _, m := range markets {
		base, quote := m.Assets()
		var group []*account.Account
		for _, asset := range []string{base, quote} {
			acc, ok := e.FindAccount(asset)
			if !ok || seen[asset] {
				continue
			}
			seen[asset] = true
			group = append(group, acc)
		}
		out = append(out, group)
	}
	var rest []*account.Account
	for _, acc := range e.Accounts() {
		if !seen[acc.Type] {
			rest = append(rest, acc)
		}
	}
	if len(rest) > 0 {
		out = append(out, rest)
	}
	return out
}

func (e *Exchange) refreshAccounts(groups [][]*account.Account) {
	delay := e.Settings().StaggerDelay
	for i, group := range groups {
		for j, acc := range group {
			acc := acc
			wait := delay*time.Duration(i) + accountStagger*time.Duration(j)
			e.Go(func(ctx context.Context) error {
				if err := sleepUntil(ctx, time.Now().Add(wait)); err != nil {
					return nil
				}
				log := e.Log().WithFields(logger.Fields{"account": acc.Type})
				if err := e.venue.Address(ctx, acc); err != nil {
					log.WithError(err).Warn("failed to refresh address")
					return nil
				}
				if err := e.venue.Balance(ctx, acc); err != nil {
					log.WithError(err).Warn("failed to refresh balance")
				}
				return nil
			})
		}
	}
}

func (e *Exchange) market(marketType string) (*market.Market, error) {
	if e.State() != Ready {
		return nil, fmt.Errorf("%s: %w", e.Name(), ErrNotReady)
	}
	m, ok := e.FindMarket(marketType)
	if !ok {
		return nil, fmt.Errorf("%s: market %q: %w", e.Name(), marketType, ErrUnknownMarket)
	}
	return m, nil
}

func (e *Exchange) Buy(ctx context.Context, marketType string, rate, amount float64) (*order.Order, error) {
	return e.Order(ctx, market.Buy, marketType, rate, amount)
}

func (e *Exchange) Sell(ctx context.Context, marketType string, rate, amount float64) (*order.Order, error) {
	return e.Order(ctx, market.Sell, marketType, rate, amount)
}

// Order places a limit order. The order is observed before it is sent so
// fills reported ahead of the venue acknowledgement find it. On failure the
// returned order is closed as failed.
func (e *Exchange) Order(ctx context.Context, side market.Side, marketType string, rate, amount float64) (*order.Order, error) {
	m, err := e.market(marketType)
	if err != nil {
		return nil, err
	}

	o := order.New(side, rate, amount)
	e.ObserveOrder(o)

	switch side {
	case market.Buy:
		err = e.venue.Buy(ctx, m, o)
	case market.Sell:
		err = e.venue.Sell(ctx, m, o)
	default:
		err = fmt.Errorf("invalid side %d", side)
	}
	log := e.Log().WithFields(logger.Fields{"market": marketType, "order_id": o.ID()})
	if err != nil {
		_ = o.Close(order.Failed)
		log.WithError(err).Warn("order failed")
		return o, err
	}

	logger.IncrementOrderOpened()
	logger.LogOrderFlowEntry(log, e.Name(), marketType, side.String(), string(o.Status()))
	return o, nil
}

// Cancel asks the venue to cancel o.
func (e *Exchange) Cancel(ctx context.Context, marketType string, o *order.Order) error {
	m, err := e.market(marketType)
	if err != nil {
		return err
	}
	if o.IsClosed() {
		return order.ErrClosed
	}
	return e.venue.Cancel(ctx, m, o)
}

// Move replaces o with a new order at rate for amount. A zero rate keeps the
// current rate and a zero amount keeps the unfilled remainder.
func (e *Exchange) Move(ctx context.Context, marketType string, o *order.Order, rate, amount float64) (*order.Order, error) {
	m, err := e.market(marketType)
	if err != nil {
		return nil, err
	}
	if o.IsClosed() {
		return nil, order.ErrClosed
	}
	if rate <= 0 {
		rate = o.Rate()
	}
	if amount <= 0 {
		amount = o.Amount() - o.AmountFilled()
	}

	replacement := order.New(o.Side(), rate, amount)
	e.ObserveOrder(replacement)
	if err := e.venue.Move(ctx, m, o, replacement); err != nil {
		_ = replacement.Close(order.Failed)
		return replacement, err
	}
	return replacement, nil
}

// Transfer withdraws amount from the account of accountType. On failure the
// returned transfer is closed as failed.
func (e *Exchange) Transfer(ctx context.Context, accountType string, amount float64) (*account.Transfer, error) {
	acc, ok := e.FindAccount(accountType)
	if !ok {
		return nil, fmt.Errorf("%s: account %q: %w", e.Name(), accountType, ErrUnknownAccount)
	}
	t := account.NewTransfer(account.Withdrawal, acc, amount)
	e.ObserveTransfer(t)
	logger.IncrementTransfer()
	if err := e.venue.Transfer(ctx, t); err != nil {
		_ = t.Fail()
		return t, err
	}
	return t, nil
}

// Address refreshes the deposit address of the account of accountType.
func (e *Exchange) Address(ctx context.Context, accountType string) (*account.Account, error) {
	acc, ok := e.FindAccount(accountType)
	if !ok {
		return nil, fmt.Errorf("%s: account %q: %w", e.Name(), accountType, ErrUnknownAccount)
	}
	return acc, e.venue.Address(ctx, acc)
}

// Balance refreshes the available amount of the account of accountType.
func (e *Exchange) Balance(ctx context.Context, accountType string) (*account.Account, error) {
	acc, ok := e.FindAccount(accountType)
	if !ok {
		return nil, fmt.Errorf("%s: account %q: %w", e.Name(), accountType, ErrUnknownAccount)
	}
	return acc, e.venue.Balance(ctx, acc)
}

// GetRate is the midpoint of m, 0 if either side is empty.
func (e *Exchange) GetRate(m *market.Market) float64 {
	return e.Rate(m)
}

// GetMinimum is the smallest order amount the venue accepts on m.
func (e *Exchange) GetMinimum(m *market.Market) float64 {
	return e.venue.Minimum(m)
}

// GetStep is the rate increment of marketType.
func (e *Exchange) GetStep(marketType string) float64 {
	if step := e.venue.Step(marketType); step > 0 {
		return step
	}
	return e.Settings().Step
}
