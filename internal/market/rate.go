package market

import (
	"fmt"
	"strings"
)

// Side selects one half of a market. Buy prefers higher rates, sell lower.
type Side uint8

const (
	Buy Side = iota
	Sell
)

// Sides lists both sides in book order.
var Sides = [2]Side{Buy, Sell}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide maps venue vocabulary ("buy", "BUY", "bid", "ask", ...) to a Side.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "bid", "bids", "b":
		return Buy, nil
	case "sell", "ask", "asks", "a", "s":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

// Tip returns the better of two rates for side.
func Tip(side Side, a, b float64) float64 {
	if side == Buy {
		return max(a, b)
	}
	return min(a, b)
}

// Dip returns the worse of two rates for side.
func Dip(side Side, a, b float64) float64 {
	if side == Buy {
		return min(a, b)
	}
	return max(a, b)
}

// Up moves rate by delta in the aggressive direction for side.
func Up(side Side, rate, delta float64) float64 {
	if side == Buy {
		return rate + delta
	}
	return rate - delta
}

// Down moves rate by delta in the passive direction for side.
func Down(side Side, rate, delta float64) float64 {
	if side == Buy {
		return rate - delta
	}
	return rate + delta
}

// UpPercentage moves rate aggressively by the fraction of itself, 0.01
// meaning one percent.
func UpPercentage(side Side, rate, fraction float64) float64 {
	return Up(side, rate, rate*fraction)
}

// DownPercentage moves rate passively by the fraction of itself.
func DownPercentage(side Side, rate, fraction float64) float64 {
	return Down(side, rate, rate*fraction)
}
