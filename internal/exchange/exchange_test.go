package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/account"
	"tradecore/internal/market"
	"tradecore/internal/order"
)

// stubVenue implements order placement and account refresh only.
type stubVenue struct {
	Unimplemented

	mu        sync.Mutex
	onInit    func()
	initErr   error
	submitErr error
	inits     int
	sides     []market.Side
	refreshed []string
}

func (v *stubVenue) Init(context.Context) error {
	v.mu.Lock()
	v.inits++
	onInit, err := v.onInit, v.initErr
	v.mu.Unlock()
	if onInit != nil {
		onInit()
	}
	return err
}

func (v *stubVenue) submit(side market.Side, o *order.Order) error {
	v.mu.Lock()
	v.sides = append(v.sides, side)
	err := v.submitErr
	v.mu.Unlock()
	if err != nil {
		return err
	}
	return o.Update(order.WithOriginID("origin-" + o.ID()))
}

func (v *stubVenue) Buy(_ context.Context, _ *market.Market, o *order.Order) error {
	return v.submit(market.Buy, o)
}

func (v *stubVenue) Sell(_ context.Context, _ *market.Market, o *order.Order) error {
	return v.submit(market.Sell, o)
}

func (v *stubVenue) Address(_ context.Context, a *account.Account) error {
	a.SetAddress("addr-" + a.Type)
	return nil
}

func (v *stubVenue) Balance(_ context.Context, a *account.Account) error {
	a.SetAmount(1.5)
	v.mu.Lock()
	v.refreshed = append(v.refreshed, a.Type)
	v.mu.Unlock()
	return nil
}

func (v *stubVenue) Minimum(*market.Market) float64 { return 0.02 }

func (v *stubVenue) Step(marketType string) float64 {
	if marketType == "ethbtc" {
		return 0.00001
	}
	return 0
}

func newTestExchange(t *testing.T, venue Venue) *Exchange {
	t.Helper()
	settings := testSettings()
	settings.StaggerDelay = time.Millisecond
	s := NewSession("kraken", settings, nil)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, venue)
}

func TestInitFailsFastOnBadMarket(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}}
	e := newTestExchange(t, venue)

	_, err := e.Init(context.Background(), []string{"ethbtc", "xrpfoo"}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrNoQuote))
	assert.Equal(t, Uninitialized, e.State())
	assert.Zero(t, venue.inits)
	assert.Empty(t, e.Markets())
	assert.Empty(t, e.Accounts())
}

func TestInitDefaultsToAllMarkets(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}}
	e := newTestExchange(t, venue)

	markets, err := e.Init(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Len(t, markets, 2)
	assert.Equal(t, Ready, e.State())
	assert.Equal(t, 1, venue.inits)

	_, err = e.Init(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestInitVenueError(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}, initErr: errors.New("boom")}
	e := newTestExchange(t, venue)

	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	assert.Error(t, err)
	assert.Equal(t, Uninitialized, e.State())
}

func TestInitFailureLeavesCleanSession(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}, initErr: errors.New("boom")}
	e := newTestExchange(t, venue)
	stopped := make(chan struct{})
	venue.onInit = func() {
		e.Go(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		})
		e.SetExtra("ethbtc", MarketExtra{Step: 0.1})
	}

	_, err := e.Init(context.Background(), []string{"ethbtc", "ltcbtc"}, Options{})
	require.Error(t, err)
	select {
	case <-stopped:
	default:
		t.Fatal("venue goroutine still running after failed init")
	}
	assert.Equal(t, Uninitialized, e.State())
	assert.Empty(t, e.Markets())
	assert.Empty(t, e.Accounts())
	_, ok := e.Extra("ethbtc")
	assert.False(t, ok)

	venue.mu.Lock()
	venue.initErr, venue.onInit = nil, nil
	venue.mu.Unlock()
	markets, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	require.NoError(t, err)
	assert.Len(t, markets, 1)
	assert.Len(t, e.Markets(), 1)
	assert.Equal(t, Ready, e.State())

	ran := make(chan struct{})
	e.Go(func(context.Context) error {
		close(ran)
		return nil
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("session does not run work after a retried init")
	}
}

func TestInitCreatesEveryConfiguredAccount(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}}
	e := newTestExchange(t, venue)

	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	require.NoError(t, err)

	types := make([]string, 0, 3)
	for _, acc := range e.Accounts() {
		types = append(types, acc.Type)
	}
	assert.ElementsMatch(t, []string{"btc", "eth", "ltc"}, types)

	acc, err := e.Balance(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, 1.5, acc.Amount())
	venue.mu.Lock()
	assert.Equal(t, []string{"eth"}, venue.refreshed)
	venue.mu.Unlock()
}

func TestInitTradeRefreshesAccounts(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}}
	e := newTestExchange(t, venue)

	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{Trade: true})
	require.NoError(t, err)

	assert.Len(t, e.Accounts(), 3)
	assert.Eventually(t, func() bool {
		venue.mu.Lock()
		defer venue.mu.Unlock()
		return len(venue.refreshed) == 3
	}, time.Second, 5*time.Millisecond)

	acc, ok := e.FindAccount("btc")
	require.True(t, ok)
	assert.Equal(t, "addr-btc", acc.Address())
	assert.Equal(t, 1.5, acc.Amount())
}

func TestOrderBeforeInit(t *testing.T) {
	e := newTestExchange(t, &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}})
	_, err := e.Buy(context.Background(), "ethbtc", 0.05, 1)
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestOrderDispatchBySide(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}}
	e := newTestExchange(t, venue)
	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	require.NoError(t, err)

	buy, err := e.Buy(context.Background(), "ethbtc", 0.05, 1)
	require.NoError(t, err)
	sell, err := e.Order(context.Background(), market.Sell, "ethbtc", 0.06, 2)
	require.NoError(t, err)

	assert.Equal(t, []market.Side{market.Buy, market.Sell}, venue.sides)
	assert.True(t, buy.IsOpen())
	assert.Equal(t, "origin-"+buy.ID(), buy.OriginID())
	assert.Len(t, e.Orders(), 2)

	found, ok := e.FindOrder(sell.OriginID())
	require.True(t, ok)
	assert.Same(t, sell, found)

	_, err = e.Sell(context.Background(), "dogebtc", 1, 1)
	assert.True(t, errors.Is(err, ErrUnknownMarket))
}

func TestOrderFailureClosesOrder(t *testing.T) {
	venue := &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}, submitErr: &VenueError{Venue: "kraken", Path: "AddOrder", Message: "EOrder:Insufficient funds"}}
	e := newTestExchange(t, venue)
	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	require.NoError(t, err)

	o, err := e.Buy(context.Background(), "ethbtc", 0.05, 1)
	require.Error(t, err)
	var ve *VenueError
	assert.True(t, errors.As(err, &ve))
	require.NotNil(t, o)
	assert.Equal(t, order.Failed, o.Status())
	assert.Empty(t, e.Orders())
}

func TestUnimplementedCapabilities(t *testing.T) {
	e := newTestExchange(t, Unimplemented{Venue: "kraken"})
	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	require.NoError(t, err)

	o, err := e.Buy(context.Background(), "ethbtc", 0.05, 1)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	assert.True(t, o.IsFailed())

	open := order.New(market.Buy, 0.05, 1)
	err = e.Cancel(context.Background(), "ethbtc", open)
	assert.True(t, errors.Is(err, ErrNotImplemented))

	replacement, err := e.Move(context.Background(), "ethbtc", open, 0.051, 0)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	assert.Equal(t, order.Failed, replacement.Status())

	acc := e.AddAccount("eth")
	tr, err := e.Transfer(context.Background(), "eth", 1)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	assert.True(t, tr.IsFailed())
	assert.Empty(t, e.Transfers())

	_, err = e.Address(context.Background(), acc.Type)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	_, err = e.Balance(context.Background(), acc.Type)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	_, err = e.Balance(context.Background(), "doge")
	assert.True(t, errors.Is(err, ErrUnknownAccount))

	m, _ := e.FindMarket("ethbtc")
	assert.Zero(t, e.GetMinimum(m))
	assert.Equal(t, 1e-8, e.GetStep("ethbtc"))
}

func TestCancelClosedOrder(t *testing.T) {
	e := newTestExchange(t, Unimplemented{Venue: "kraken"})
	_, err := e.Init(context.Background(), []string{"ethbtc"}, Options{})
	require.NoError(t, err)

	o := order.New(market.Sell, 0.05, 1)
	require.NoError(t, o.Close(order.Canceled))
	assert.ErrorIs(t, e.Cancel(context.Background(), "ethbtc", o), order.ErrClosed)
}

func TestVenueConstraints(t *testing.T) {
	e := newTestExchange(t, &stubVenue{Unimplemented: Unimplemented{Venue: "kraken"}})
	markets, err := e.Init(context.Background(), []string{"ethbtc", "ltcbtc"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0.00001, e.GetStep("ethbtc"))
	assert.Equal(t, 1e-8, e.GetStep("ltcbtc"))
	assert.Equal(t, 0.02, e.GetMinimum(markets[0]))
	assert.Zero(t, e.GetRate(markets[0]))
}
