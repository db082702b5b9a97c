// Package registry is the static table of assets, quote assets and per-venue
// symbol tables. A Registry is built once at start and shared read-only.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fees are fractions charged per fill.
type Fees struct {
	Make float64 `yaml:"make"`
	Take float64 `yaml:"take"`
}

// Venue holds the static tables of one exchange.
type Venue struct {
	// Accounts maps local asset type to venue asset symbol.
	Accounts map[string]string `yaml:"accounts"`
	// Markets maps local market type to venue pair symbol.
	Markets map[string]string `yaml:"markets"`
	// Minimum order size keyed by asset. Whether the key is the base or the
	// quote asset is venue specific.
	Minimum map[string]float64 `yaml:"minimum"`
	Fees    Fees               `yaml:"fees"`
	// Frequency is the documented request budget per second, 0 if unknown.
	Frequency int `yaml:"frequency"`
}

// Registry is immutable after construction. Accessors return copies.
type Registry struct {
	assets []string
	quotes []string
	venues map[string]Venue
}

type file struct {
	Assets []string         `yaml:"assets"`
	Quotes []string         `yaml:"quotes"`
	Venues map[string]Venue `yaml:"venues"`
}

// Default returns the built-in registry.
func Default() *Registry {
	return build(defaultAssets, defaultQuotes, defaultVenues())
}

// Load returns the built-in registry merged with the YAML file at path.
// Venue tables in the file replace or extend the built-in entries key by key.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Default().Merge(data)
}

// Merge returns a new registry with the YAML document applied on top of r.
func (r *Registry) Merge(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	assets := append(r.Assets(), f.Assets...)
	quotes := r.Quotes()
	if len(f.Quotes) > 0 {
		quotes = f.Quotes
	}

	venues := make(map[string]Venue, len(r.venues))
	for name := range r.venues {
		venues[name], _ = r.Venue(name)
	}
	for name, override := range f.Venues {
		name = strings.ToLower(name)
		v := venues[name]
		v.Accounts = mergeStrings(v.Accounts, override.Accounts)
		v.Markets = mergeStrings(v.Markets, override.Markets)
		v.Minimum = mergeFloats(v.Minimum, override.Minimum)
		if override.Fees != (Fees{}) {
			v.Fees = override.Fees
		}
		if override.Frequency > 0 {
			v.Frequency = override.Frequency
		}
		venues[name] = v
	}

	reg := build(assets, quotes, venues)
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func build(assets, quotes []string, venues map[string]Venue) *Registry {
	seen := map[string]struct{}{}
	uniq := make([]string, 0, len(assets))
	for _, a := range assets {
		a = strings.ToLower(a)
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		uniq = append(uniq, a)
	}
	sort.Strings(uniq)

	lowered := make([]string, len(quotes))
	for i, q := range quotes {
		lowered[i] = strings.ToLower(q)
	}
	return &Registry{assets: uniq, quotes: lowered, venues: venues}
}

func (r *Registry) validate() error {
	known := make(map[string]struct{}, len(r.assets))
	for _, a := range r.assets {
		known[a] = struct{}{}
	}
	for _, q := range r.quotes {
		if _, ok := known[q]; !ok {
			return fmt.Errorf("quote asset %q is not a known asset", q)
		}
	}
	for name, v := range r.venues {
		for local := range v.Accounts {
			if _, ok := known[local]; !ok {
				return fmt.Errorf("venue %s: account %q is not a known asset", name, local)
			}
		}
	}
	return nil
}

// Assets lists every known asset type.
func (r *Registry) Assets() []string {
	return append([]string(nil), r.assets...)
}

// Quotes lists the assets a market type may end with.
func (r *Registry) Quotes() []string {
	return append([]string(nil), r.quotes...)
}

// Venues lists the configured venue names.
func (r *Registry) Venues() []string {
	out := make([]string, 0, len(r.venues))
	for name := range r.venues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Venue returns a copy of the tables of name.
func (r *Registry) Venue(name string) (Venue, bool) {
	v, ok := r.venues[strings.ToLower(name)]
	if !ok {
		return Venue{}, false
	}
	return Venue{
		Accounts:  mergeStrings(nil, v.Accounts),
		Markets:   mergeStrings(nil, v.Markets),
		Minimum:   mergeFloats(nil, v.Minimum),
		Fees:      v.Fees,
		Frequency: v.Frequency,
	}, true
}

// Label renders a market type as "BASE:QUOTE", or upper-cases it when it does
// not decompose.
func (r *Registry) Label(marketType string) string {
	for _, q := range r.quotes {
		if len(q) < len(marketType) && strings.HasSuffix(marketType, q) {
			return strings.ToUpper(marketType[:len(marketType)-len(q)] + ":" + q)
		}
	}
	return strings.ToUpper(marketType)
}

func mergeStrings(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func mergeFloats(dst, src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
