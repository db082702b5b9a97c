package exchange

import (
	"fmt"
	"time"

	"tradecore/internal/market"
	"tradecore/internal/registry"
)

const (
	DefaultStep            = 1e-8
	DefaultFee             = 0.2
	DefaultStaggerDelay    = 111 * time.Millisecond
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxNonceRetries = 3
)

// Fees are fractions charged per fill.
type Fees struct {
	Make float64
	Take float64
}

// Settings are the static parameters of one venue session.
type Settings struct {
	Step  float64
	Fees  Fees
	Depth int

	Quotes   []string
	Accounts map[string]string
	Markets  map[string]string
	// Minimum order size keyed by asset. Adapters decide whether the key is
	// the base or the quote asset.
	Minimum map[string]float64

	StaggerDelay time.Duration
	PollInterval time.Duration
	// MaxNonceRetries caps re-sends after a nonce rejection. Zero selects the
	// default, a negative value disables retries.
	MaxNonceRetries int
}

// MarketExtra holds per-market trading constraints discovered at init.
type MarketExtra struct {
	Step           float64
	RateDecimals   int
	AmountLots     float64
	AmountDecimals int
}

// DefaultSettings returns settings with every default applied and empty
// symbol tables.
func DefaultSettings() Settings {
	return Settings{}.withDefaults()
}

// SettingsFromRegistry builds the settings of venue from reg.
func SettingsFromRegistry(reg *registry.Registry, venue string) (Settings, error) {
	v, ok := reg.Venue(venue)
	if !ok {
		return Settings{}, fmt.Errorf("venue %q is not in the registry", venue)
	}
	s := Settings{
		Quotes:   reg.Quotes(),
		Accounts: v.Accounts,
		Markets:  v.Markets,
		Minimum:  v.Minimum,
	}
	if v.Fees.Make > 0 || v.Fees.Take > 0 {
		s.Fees = Fees{Make: v.Fees.Make, Take: v.Fees.Take}
	}
	return s.withDefaults(), nil
}

func (s Settings) withDefaults() Settings {
	if s.Step <= 0 {
		s.Step = DefaultStep
	}
	if s.Fees == (Fees{}) {
		s.Fees = Fees{Make: DefaultFee, Take: DefaultFee}
	}
	if s.Depth <= 0 {
		s.Depth = market.DefaultDepth
	}
	if s.StaggerDelay <= 0 {
		s.StaggerDelay = DefaultStaggerDelay
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.MaxNonceRetries == 0 {
		s.MaxNonceRetries = DefaultMaxNonceRetries
	}
	if s.Accounts == nil {
		s.Accounts = map[string]string{}
	}
	if s.Markets == nil {
		s.Markets = map[string]string{}
	}
	if s.Minimum == nil {
		s.Minimum = map[string]float64{}
	}
	return s
}
