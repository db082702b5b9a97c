package market

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoQuote is returned when a market type has no unique quote-asset suffix.
var ErrNoQuote = errors.New("market type does not decompose into base and quote")

// Market pairs the buy and sell books of one asset pair.
type Market struct {
	Type  string
	base  string
	quote string
	books [2]*Book
}

// New creates a market for typ, e.g. "ethbtc", splitting it against quotes.
func New(typ string, quotes []string, depth int) (*Market, error) {
	base, quote, err := Decompose(typ, quotes)
	if err != nil {
		return nil, err
	}
	return &Market{
		Type:  typ,
		base:  base,
		quote: quote,
		books: [2]*Book{NewBook(Buy, depth), NewBook(Sell, depth)},
	}, nil
}

// Decompose splits typ into base and quote assets. Exactly one entry of
// quotes must be a proper suffix of typ.
func Decompose(typ string, quotes []string) (base, quote string, err error) {
	typ = strings.ToLower(typ)
	matches := 0
	for _, q := range quotes {
		q = strings.ToLower(q)
		if q == "" || len(q) >= len(typ) || !strings.HasSuffix(typ, q) {
			continue
		}
		matches++
		base, quote = typ[:len(typ)-len(q)], q
	}
	if matches != 1 {
		return "", "", fmt.Errorf("%w: %q (%d matches)", ErrNoQuote, typ, matches)
	}
	return base, quote, nil
}

// Assets returns base and quote.
func (m *Market) Assets() (base, quote string) {
	return m.base, m.quote
}

// AssetSource is the asset spent when trading on side.
func (m *Market) AssetSource(side Side) string {
	if side == Buy {
		return m.quote
	}
	return m.base
}

// AssetTarget is the asset received when trading on side.
func (m *Market) AssetTarget(side Side) string {
	if side == Buy {
		return m.base
	}
	return m.quote
}

// AssetTargetOf resolves the target asset for a market type without a Market.
func AssetTargetOf(typ string, quotes []string, side Side) (string, error) {
	base, quote, err := Decompose(typ, quotes)
	if err != nil {
		return "", err
	}
	if side == Buy {
		return base, nil
	}
	return quote, nil
}

// Book returns the book for side.
func (m *Market) Book(side Side) *Book {
	return m.books[side]
}

// Spread is best ask minus best bid, 0 when either side is empty.
func (m *Market) Spread() float64 {
	bid, okBid := m.books[Buy].Top()
	ask, okAsk := m.books[Sell].Top()
	if !okBid || !okAsk {
		return 0
	}
	return ask.Rate - bid.Rate
}

// SpreadPercent is the spread relative to the midpoint, 0 when either side
// is empty.
func (m *Market) SpreadPercent() float64 {
	bid, okBid := m.books[Buy].Top()
	ask, okAsk := m.books[Sell].Top()
	if !okBid || !okAsk {
		return 0
	}
	mid := (ask.Rate + bid.Rate) / 2
	if mid == 0 {
		return 0
	}
	return (ask.Rate - bid.Rate) / mid
}

func (m *Market) String() string {
	return strings.ToUpper(m.base) + ":" + strings.ToUpper(m.quote)
}
