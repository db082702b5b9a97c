package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IPShard binds the markets of each venue to a specific source IP. Requests
// for those markets leave the host from that address.
type IPShard struct {
	IP              string   `yaml:"ip"`
	BinanceMarkets  []string `yaml:"binance_markets"`
	KrakenMarkets   []string `yaml:"kraken_markets"`
	BitstampMarkets []string `yaml:"bitstamp_markets"`
}

// IPShards represents the full shard configuration.
type IPShards struct {
	Shards []IPShard `yaml:"shards"`
}

// LoadIPShards loads shard configuration from the given path.
func LoadIPShards(path string) (*IPShards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg IPShards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	for i := range cfg.Shards {
		cfg.Shards[i].IP = strings.TrimSpace(cfg.Shards[i].IP)
		if cfg.Shards[i].IP == "" {
			return nil, fmt.Errorf("shard %d: ip is required", i)
		}
	}
	return &cfg, nil
}

func (s IPShard) markets(venue string) []string {
	switch strings.ToLower(venue) {
	case "binance":
		return s.BinanceMarkets
	case "kraken":
		return s.KrakenMarkets
	case "bitstamp":
		return s.BitstampMarkets
	}
	return nil
}

// IPFor returns the source IP of the first shard that lists any of markets
// for venue. An empty string means the default route.
func (s *IPShards) IPFor(venue string, markets []string) string {
	if s == nil {
		return ""
	}
	want := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		want[m] = struct{}{}
	}
	for _, shard := range s.Shards {
		for _, m := range shard.markets(venue) {
			if _, ok := want[m]; ok {
				return shard.IP
			}
		}
	}
	return ""
}
