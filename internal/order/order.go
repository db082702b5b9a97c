// Package order holds the local mirror of a venue order and its lifecycle.
package order

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/market"
	"tradecore/internal/observe"
)

// Status of an order. Open is the only non-terminal status.
type Status string

const (
	Open     Status = "open"
	Filled   Status = "filled"
	Canceled Status = "canceled"
	Failed   Status = "failed"
)

// ErrClosed is returned when mutating an order that already reached a
// terminal status.
var ErrClosed = errors.New("order is closed")

// Order is a trading intent submitted to a venue.
type Order struct {
	mu sync.RWMutex

	id           string
	originID     string
	originIDs    []string
	status       Status
	side         market.Side
	rate         float64
	amount       float64
	amountFilled float64
	amountFunded float64
	assetFee     string
	amountFee    float64
	createdAt    time.Time

	subject *observe.Subject[Snapshot]
}

// Snapshot is an immutable copy of an order's fields.
type Snapshot struct {
	ID           string
	OriginID     string
	OriginIDs    []string
	Status       Status
	Side         market.Side
	Rate         float64
	Amount       float64
	AmountFilled float64
	AmountFunded float64
	AssetFee     string
	AmountFee    float64
	CreatedAt    time.Time
}

// New creates an open order with a fresh local id.
func New(side market.Side, rate, amount float64) *Order {
	return &Order{
		id:        uuid.NewString(),
		status:    Open,
		side:      side,
		rate:      rate,
		amount:    amount,
		createdAt: time.Now().UTC(),
		subject:   observe.New[Snapshot](),
	}
}

// Option sets one venue-reported field during Update.
type Option func(*Order)

// WithOriginID records the venue-assigned id.
func WithOriginID(id string) Option {
	return func(o *Order) {
		o.originID = id
		if len(o.originIDs) == 0 {
			o.originIDs = []string{id}
		}
	}
}

// WithOriginIDs records every venue id attached to the order. The first one
// becomes the origin id when none is set.
func WithOriginIDs(ids ...string) Option {
	return func(o *Order) {
		o.originIDs = append([]string(nil), ids...)
		if o.originID == "" && len(ids) > 0 {
			o.originID = ids[0]
		}
	}
}

// WithAmountFilled sets the cumulative executed amount.
func WithAmountFilled(v float64) Option {
	return func(o *Order) { o.amountFilled = v }
}

// WithAmountFunded sets the cumulative amount received.
func WithAmountFunded(v float64) Option {
	return func(o *Order) { o.amountFunded = v }
}

// WithAmountFee sets the cumulative fee.
func WithAmountFee(v float64) Option {
	return func(o *Order) { o.amountFee = v }
}

// WithAssetFee sets the asset the fee is charged in.
func WithAssetFee(asset string) Option {
	return func(o *Order) { o.assetFee = asset }
}

// Update applies opts. An open order whose filled amount reaches the
// requested amount is closed as filled, otherwise subscribers get the new
// state.
func (o *Order) Update(opts ...Option) error {
	o.mu.Lock()
	if o.status != Open {
		o.mu.Unlock()
		return ErrClosed
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.amountFilled == o.amount {
		snap := o.closeLocked("")
		o.mu.Unlock()
		o.subject.Next(snap)
		o.subject.Complete()
		return nil
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.subject.Next(snap)
	return nil
}

// Close moves the order to a terminal status. amount becomes amountFilled.
// Any fill makes the order filled, otherwise status is used and an empty
// status means failed.
func (o *Order) Close(status Status) error {
	o.mu.Lock()
	if o.status != Open {
		o.mu.Unlock()
		return ErrClosed
	}
	snap := o.closeLocked(status)
	o.mu.Unlock()

	o.subject.Next(snap)
	o.subject.Complete()
	return nil
}

func (o *Order) closeLocked(status Status) Snapshot {
	o.amount = o.amountFilled
	switch {
	case o.amountFilled > 0:
		o.status = Filled
	case status != "" && status != Open:
		o.status = status
	default:
		o.status = Failed
	}
	return o.snapshotLocked()
}

// Subscribe registers next for every state change and done for completion.
// A late subscriber gets the last state first.
func (o *Order) Subscribe(next func(Snapshot), done func()) func() {
	return o.subject.Subscribe(next, done)
}

// Snapshot returns a copy of the current fields.
func (o *Order) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

func (o *Order) snapshotLocked() Snapshot {
	return Snapshot{
		ID:           o.id,
		OriginID:     o.originID,
		OriginIDs:    append([]string(nil), o.originIDs...),
		Status:       o.status,
		Side:         o.side,
		Rate:         o.rate,
		Amount:       o.amount,
		AmountFilled: o.amountFilled,
		AmountFunded: o.amountFunded,
		AssetFee:     o.assetFee,
		AmountFee:    o.amountFee,
		CreatedAt:    o.createdAt,
	}
}

func (o *Order) ID() string { return o.id }

func (o *Order) Side() market.Side { return o.side }

func (o *Order) Rate() float64 { return o.rate }

func (o *Order) OriginID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.originID
}

func (o *Order) OriginIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.originIDs...)
}

func (o *Order) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Order) Amount() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.amount
}

func (o *Order) AmountFilled() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.amountFilled
}

func (o *Order) AmountFunded() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.amountFunded
}

func (o *Order) AmountFee() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.amountFee
}

func (o *Order) AssetFee() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.assetFee
}

func (o *Order) IsOpen() bool { return o.Status() == Open }

func (o *Order) IsFilled() bool { return o.Status() == Filled }

// IsFailed reports failed or canceled.
func (o *Order) IsFailed() bool {
	s := o.Status()
	return s == Failed || s == Canceled
}

func (o *Order) IsClosed() bool { return !o.IsOpen() }

// Matches reports whether the order is open on side at exactly the level's
// rate and amount.
func (o *Order) Matches(side market.Side, bo market.BookOrder) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status == Open && o.side == side && o.rate == bo.Rate && o.amount == bo.Amount
}

// Mean returns the amount-weighted rate of orders, 0 when no amount.
func Mean(orders []*Order) float64 {
	var totalAmount, totalRate float64
	for _, o := range orders {
		amount := o.Amount()
		totalAmount += amount
		totalRate += o.rate * amount
	}
	if totalAmount == 0 {
		return 0
	}
	return totalRate / totalAmount
}
