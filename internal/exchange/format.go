package exchange

import (
	"github.com/shopspring/decimal"
)

// FormatFixed renders v with exactly places decimals.
func FormatFixed(v float64, places int) string {
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(v).StringFixed(int32(places))
}

// StepDecimals is the number of decimals of step, e.g. 3 for 0.001.
func StepDecimals(step float64) int {
	if step <= 0 {
		return 0
	}
	if e := decimal.NewFromFloat(step).Exponent(); e < 0 {
		return int(-e)
	}
	return 0
}

// ParseDecimal parses a venue decimal string. Empty or malformed input is 0.
func ParseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
