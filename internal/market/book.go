package market

import (
	"sort"
	"sync"
)

// DefaultDepth is the number of price levels a book keeps unless configured.
const DefaultDepth = 10

// BookOrder is one resting price level.
type BookOrder struct {
	Rate   float64
	Amount float64
}

// TopListener receives the top of a book after it changed. ok is false when
// the book became empty.
type TopListener func(side Side, top BookOrder, ok bool)

type topListener struct {
	id uint64
	fn TopListener
}

// Book is one side of a market order book, ordered best first.
type Book struct {
	side  Side
	depth int

	mu        sync.Mutex
	orders    []BookOrder
	seq       uint64
	listeners []topListener
}

// NewBook creates an empty book. depth <= 0 selects DefaultDepth.
func NewBook(side Side, depth int) *Book {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Book{
		side:   side,
		depth:  depth,
		orders: make([]BookOrder, 0, depth+1),
	}
}

// Side returns the book side.
func (b *Book) Side() Side { return b.side }

// Depth returns the maximum number of retained levels.
func (b *Book) Depth() int { return b.depth }

// Add inserts o keeping the side ordering. A level whose rate is already
// present is not inserted. Listeners fire only when o became the top.
func (b *Book) Add(o BookOrder) {
	b.mu.Lock()
	idx := -1
	for i, e := range b.orders {
		if Tip(b.side, e.Rate, o.Rate) == o.Rate {
			idx = i
			break
		}
	}

	inserted := -1
	switch {
	case idx < 0:
		b.orders = append(b.orders, o)
		inserted = len(b.orders) - 1
	case b.orders[idx].Rate != o.Rate:
		b.orders = append(b.orders, BookOrder{})
		copy(b.orders[idx+1:], b.orders[idx:])
		b.orders[idx] = o
		inserted = idx
	}

	if len(b.orders) > b.depth {
		b.orders = b.orders[:b.depth]
	}
	b.mu.Unlock()

	if inserted == 0 {
		b.notify(o, true)
	}
}

// Remove deletes every level with the rate of o. Listeners fire when the top
// differs afterwards.
func (b *Book) Remove(o BookOrder) {
	b.mu.Lock()
	before, hadTop := b.top()
	kept := b.orders[:0]
	for _, e := range b.orders {
		if e.Rate != o.Rate {
			kept = append(kept, e)
		}
	}
	b.orders = kept
	after, hasTop := b.top()
	b.mu.Unlock()

	if hadTop != hasTop || before != after {
		b.notify(after, hasTop)
	}
}

// Reset replaces the book with a full snapshot. The snapshot is ordered for
// the side, repeated rates keep their first level and the result is cut to
// depth. Listeners always fire.
func (b *Book) Reset(orders []BookOrder) {
	next := make([]BookOrder, len(orders))
	copy(next, orders)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Rate != next[j].Rate && Tip(b.side, next[i].Rate, next[j].Rate) == next[i].Rate
	})

	levels := make([]BookOrder, 0, b.depth+1)
	for _, o := range next {
		if len(levels) > 0 && levels[len(levels)-1].Rate == o.Rate {
			continue
		}
		levels = append(levels, o)
		if len(levels) == b.depth {
			break
		}
	}

	b.mu.Lock()
	b.orders = levels
	top, ok := b.top()
	b.mu.Unlock()

	b.notify(top, ok)
}

// Top returns the best level.
func (b *Book) Top() (BookOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.top()
}

// Orders returns a copy of the levels, best first.
func (b *Book) Orders() []BookOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BookOrder, len(b.orders))
	copy(out, b.orders)
	return out
}

// Len returns the number of levels.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// OnTop registers fn for top-of-book changes and returns a func removing it.
func (b *Book) OnTop(fn TopListener) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.listeners = append(b.listeners, topListener{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *Book) top() (BookOrder, bool) {
	if len(b.orders) == 0 {
		return BookOrder{}, false
	}
	return b.orders[0], true
}

func (b *Book) notify(top BookOrder, ok bool) {
	b.mu.Lock()
	listeners := append([]topListener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		l.fn(b.side, top, ok)
	}
}
