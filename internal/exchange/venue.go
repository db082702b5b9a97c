package exchange

import (
	"context"

	"tradecore/internal/account"
	"tradecore/internal/market"
	"tradecore/internal/order"
)

// Venue is the capability set every exchange adapter implements. Adapters
// hold the *Session they were built with and embed Unimplemented for the
// capabilities they lack.
type Venue interface {
	Name() string
	// Init discovers market constraints and starts book and order feeds for
	// the markets already registered on the session.
	Init(ctx context.Context) error
	// Buy and Sell submit o, which is already observed by the session, and
	// record the venue origin id on success.
	Buy(ctx context.Context, m *market.Market, o *order.Order) error
	Sell(ctx context.Context, m *market.Market, o *order.Order) error
	Cancel(ctx context.Context, m *market.Market, o *order.Order) error
	// Move replaces o with replacement, which is already observed by the
	// session and carries the new rate and amount.
	Move(ctx context.Context, m *market.Market, o, replacement *order.Order) error
	Transfer(ctx context.Context, t *account.Transfer) error
	Address(ctx context.Context, a *account.Account) error
	Balance(ctx context.Context, a *account.Account) error
	// Minimum is the smallest order amount on m, 0 if unknown.
	Minimum(m *market.Market) float64
	// Step is the rate increment of marketType, 0 to use the session default.
	Step(marketType string) float64
}

// Unimplemented fails every capability immediately with ErrNotImplemented.
type Unimplemented struct {
	Venue string
}

func (u Unimplemented) Name() string { return u.Venue }

func (u Unimplemented) Init(context.Context) error { return nil }

func (u Unimplemented) Buy(context.Context, *market.Market, *order.Order) error {
	return notImplemented(u.Venue, "buy")
}

func (u Unimplemented) Sell(context.Context, *market.Market, *order.Order) error {
	return notImplemented(u.Venue, "sell")
}

func (u Unimplemented) Cancel(context.Context, *market.Market, *order.Order) error {
	return notImplemented(u.Venue, "cancel")
}

func (u Unimplemented) Move(context.Context, *market.Market, *order.Order, *order.Order) error {
	return notImplemented(u.Venue, "move")
}

func (u Unimplemented) Transfer(context.Context, *account.Transfer) error {
	return notImplemented(u.Venue, "transfer")
}

func (u Unimplemented) Address(context.Context, *account.Account) error {
	return notImplemented(u.Venue, "address")
}

func (u Unimplemented) Balance(context.Context, *account.Account) error {
	return notImplemented(u.Venue, "balance")
}

func (u Unimplemented) Minimum(*market.Market) float64 { return 0 }

func (u Unimplemented) Step(string) float64 { return 0 }
