package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/market"
)

func TestNewOrder(t *testing.T) {
	o := New(market.Buy, 50, 3)
	assert.NotEmpty(t, o.ID())
	assert.NotEqual(t, o.ID(), New(market.Buy, 50, 3).ID())
	assert.True(t, o.IsOpen())
	assert.False(t, o.IsClosed())
	assert.Equal(t, 3.0, o.Amount())
	assert.Zero(t, o.AmountFilled())
}

func TestUpdateFullFillCloses(t *testing.T) {
	o := New(market.Sell, 10, 5)

	var states []Snapshot
	completed := false
	o.Subscribe(func(s Snapshot) { states = append(states, s) }, func() { completed = true })

	require.NoError(t, o.Update(WithAmountFilled(5)))
	assert.Equal(t, Filled, o.Status())
	assert.Equal(t, 5.0, o.Amount())
	assert.True(t, completed)
	require.Len(t, states, 1)
	assert.Equal(t, Filled, states[0].Status)
}

func TestPartialFillThenCancelReportsFilled(t *testing.T) {
	o := New(market.Buy, 10, 5)
	require.NoError(t, o.Update(WithAmountFilled(2)))
	assert.True(t, o.IsOpen())

	require.NoError(t, o.Close(Canceled))
	assert.Equal(t, Filled, o.Status())
	assert.Equal(t, 2.0, o.Amount())
	assert.True(t, o.IsFilled())
}

func TestCloseWithoutFill(t *testing.T) {
	o := New(market.Buy, 10, 5)
	require.NoError(t, o.Close(Canceled))
	assert.Equal(t, Canceled, o.Status())
	assert.Zero(t, o.Amount())
	assert.True(t, o.IsFailed())

	o = New(market.Buy, 10, 5)
	require.NoError(t, o.Close(""))
	assert.Equal(t, Failed, o.Status())
}

func TestClosedOrderRejectsMutation(t *testing.T) {
	o := New(market.Buy, 10, 5)
	require.NoError(t, o.Close(Failed))

	assert.ErrorIs(t, o.Update(WithAmountFilled(5)), ErrClosed)
	assert.ErrorIs(t, o.Close(Canceled), ErrClosed)
	assert.Equal(t, Failed, o.Status())
	assert.Zero(t, o.AmountFilled())
}

func TestLateSubscriberGetsLastState(t *testing.T) {
	o := New(market.Buy, 10, 5)
	require.NoError(t, o.Update(WithOriginID("abc"), WithAmountFilled(1), WithAssetFee("btc"), WithAmountFee(0.01)))

	var got Snapshot
	o.Subscribe(func(s Snapshot) { got = s }, nil)
	assert.Equal(t, "abc", got.OriginID)
	assert.Equal(t, []string{"abc"}, got.OriginIDs)
	assert.Equal(t, 1.0, got.AmountFilled)
	assert.Equal(t, "btc", got.AssetFee)
	assert.Equal(t, 0.01, got.AmountFee)
}

func TestOriginIDs(t *testing.T) {
	o := New(market.Sell, 1, 1)
	require.NoError(t, o.Update(WithOriginIDs("a", "b")))
	assert.Equal(t, "a", o.OriginID())
	assert.Equal(t, []string{"a", "b"}, o.OriginIDs())
}

func TestMatches(t *testing.T) {
	o := New(market.Buy, 50, 3)
	assert.True(t, o.Matches(market.Buy, market.BookOrder{Rate: 50, Amount: 3}))
	assert.False(t, o.Matches(market.Sell, market.BookOrder{Rate: 50, Amount: 3}))
	assert.False(t, o.Matches(market.Buy, market.BookOrder{Rate: 50, Amount: 2}))
	require.NoError(t, o.Close(Canceled))
	assert.False(t, o.Matches(market.Buy, market.BookOrder{Rate: 50, Amount: 0}))
}

func TestMean(t *testing.T) {
	assert.Zero(t, Mean(nil))
	orders := []*Order{New(market.Buy, 10, 1), New(market.Buy, 20, 3)}
	assert.InDelta(t, 17.5, Mean(orders), 1e-12)
}
