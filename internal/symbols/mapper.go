package symbols

import (
	"sort"
	"strings"
)

// Mapper translates between local asset or market types and the symbols a
// venue uses for them. It is built once and never mutated.
type Mapper struct {
	toVenue map[string]string
	toLocal map[string]string
}

// NewMapper builds both directions from a local->venue table. When two local
// types share a venue symbol the lexically first local type wins the reverse
// lookup.
func NewMapper(table map[string]string) Mapper {
	m := Mapper{
		toVenue: make(map[string]string, len(table)),
		toLocal: make(map[string]string, len(table)),
	}
	locals := make([]string, 0, len(table))
	for local := range table {
		locals = append(locals, local)
	}
	sort.Strings(locals)
	for _, local := range locals {
		venue := table[local]
		m.toVenue[local] = venue
		if _, exists := m.toLocal[venue]; !exists {
			m.toLocal[venue] = local
		}
	}
	return m
}

// Venue returns the venue symbol for a local type.
func (m Mapper) Venue(local string) (string, bool) {
	v, ok := m.toVenue[local]
	return v, ok
}

// Local returns the local type for a venue symbol.
func (m Mapper) Local(venue string) (string, bool) {
	v, ok := m.toLocal[venue]
	return v, ok
}

// Locals lists the local types in sorted order.
func (m Mapper) Locals() []string {
	out := make([]string, 0, len(m.toVenue))
	for k := range m.toVenue {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (m Mapper) Len() int { return len(m.toVenue) }

// Normalize converts an exchange specific symbol to the local lowercase form,
// e.g. kraken "XETHXXBT" -> "ethbtc", binance "BCCBTC" -> "bchbtc".
// Currently supported exchanges: binance, bitstamp, kraken.
func Normalize(exchange, sym string) string {
	switch strings.ToLower(exchange) {
	case "binance":
		sym = strings.ToUpper(sym)
		if strings.HasPrefix(sym, "BCC") {
			sym = "BCH" + sym[3:]
		}
	case "kraken":
		sym = strings.ToUpper(strings.NewReplacer("/", "", "-", "").Replace(sym))
		sym = krakenLegacy(sym)
	case "bitstamp":
		sym = strings.ReplaceAll(sym, "_", "")
	default:
		// others already use the desired format
	}
	return strings.ToLower(sym)
}

// krakenLegacy strips the X/Z prefixes kraken puts on legacy asset codes and
// maps XBT to BTC.
func krakenLegacy(sym string) string {
	if len(sym) == 8 && (sym[0] == 'X' || sym[0] == 'Z') && (sym[4] == 'X' || sym[4] == 'Z') {
		sym = sym[1:4] + sym[5:]
	}
	return strings.ReplaceAll(sym, "XBT", "BTC")
}
