package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tradecore TradecoreConfig `yaml:"tradecore"`
	Session   SessionConfig   `yaml:"session"`
	Reader    ReaderConfig    `yaml:"reader"`
	Venues    VenuesConfig    `yaml:"venues"`
	Registry  RegistryConfig  `yaml:"registry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TradecoreConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SessionConfig struct {
	Trade           bool          `yaml:"trade"`
	Depth           int           `yaml:"depth"`
	StaggerDelay    time.Duration `yaml:"stagger_delay"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxNonceRetries int           `yaml:"max_nonce_retries"`
}

type MetricsConfig struct {
	UsedWeight     bool          `yaml:"used_weight"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ReaderConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	UserAgent      string               `yaml:"user_agent"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	ShardsPath     string               `yaml:"shards_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type VenuesConfig struct {
	Binance  VenueConfig `yaml:"binance"`
	Kraken   VenueConfig `yaml:"kraken"`
	Bitstamp VenueConfig `yaml:"bitstamp"`
}

type VenueConfig struct {
	Enabled    bool     `yaml:"enabled"`
	RestURL    string   `yaml:"rest_url"`
	WsURL      string   `yaml:"ws_url"`
	APIKey     string   `yaml:"api_key"`
	APISecret  string   `yaml:"api_secret"`
	CustomerID string   `yaml:"customer_id"`
	Markets    []string `yaml:"markets"`
}

type RegistryConfig struct {
	Path string `yaml:"path"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	DashboardName   string `yaml:"dashboard_name"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level      string                 `yaml:"level"`
	Format     string                 `yaml:"format"`
	Output     string                 `yaml:"output"`
	MaxAge     int                    `yaml:"max_age"`
	Fields     map[string]interface{} `yaml:"fields"`
	CloudWatch CloudWatchConfig       `yaml:"cloudwatch"`
}

// Enabled returns the enabled venues keyed by name.
func (v VenuesConfig) Enabled() map[string]VenueConfig {
	out := map[string]VenueConfig{}
	for name, vc := range v.all() {
		if vc.Enabled {
			out[name] = vc
		}
	}
	return out
}

func (v VenuesConfig) all() map[string]VenueConfig {
	return map[string]VenueConfig{
		"binance":  v.Binance,
		"kraken":   v.Kraken,
		"bitstamp": v.Bitstamp,
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Session: SessionConfig{
			Depth:           10,
			StaggerDelay:    111 * time.Millisecond,
			PollInterval:    2 * time.Second,
			MaxNonceRetries: 3,
		},
		Reader: ReaderConfig{
			Timeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         10,
			},
		},
		Metrics: MetricsConfig{
			UsedWeight:     true,
			ReportInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides replaces credentials with values from the environment
// when they are set, so secrets stay out of the yaml file.
func applyEnvOverrides(config *Config) {
	override := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	override(&config.Venues.Binance.APIKey, "BINANCE_API_KEY")
	override(&config.Venues.Binance.APISecret, "BINANCE_API_SECRET")
	override(&config.Venues.Kraken.APIKey, "KRAKEN_API_KEY")
	override(&config.Venues.Kraken.APISecret, "KRAKEN_API_SECRET")
	override(&config.Venues.Bitstamp.APIKey, "BITSTAMP_API_KEY")
	override(&config.Venues.Bitstamp.APISecret, "BITSTAMP_API_SECRET")
	override(&config.Venues.Bitstamp.CustomerID, "BITSTAMP_CUSTOMER_ID")

	if config.Logging.CloudWatch.Enabled {
		override(&config.Logging.CloudWatch.AccessKeyID, "AWS_ACCESS_KEY_ID")
		override(&config.Logging.CloudWatch.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
		override(&config.Logging.CloudWatch.Region, "AWS_REGION")
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tradecore.Name == "" {
		return fmt.Errorf("tradecore.name is required")
	}

	if cfg.Tradecore.Version == "" {
		return fmt.Errorf("tradecore.version is required")
	}

	if cfg.Session.Depth <= 0 {
		return fmt.Errorf("session.depth must be greater than 0")
	}
	if cfg.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be greater than 0")
	}
	if cfg.Session.StaggerDelay < 0 {
		return fmt.Errorf("session.stagger_delay must not be negative")
	}
	if cfg.Session.MaxNonceRetries < 0 {
		return fmt.Errorf("session.max_nonce_retries must not be negative")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}

	enabled := cfg.Venues.Enabled()
	if len(enabled) == 0 {
		return fmt.Errorf("at least one venue must be enabled")
	}
	for name, vc := range enabled {
		if len(vc.Markets) == 0 {
			return fmt.Errorf("venues.%s.markets is required when the venue is enabled", name)
		}
		for _, m := range vc.Markets {
			if !isValidMarketType(m) {
				return fmt.Errorf("venues.%s.markets: market '%s' is invalid", name, m)
			}
		}
		if cfg.Session.Trade {
			if vc.APIKey == "" || vc.APISecret == "" {
				return fmt.Errorf("venues.%s.api_key and venues.%s.api_secret are required in trade mode", name, name)
			}
			if name == "bitstamp" && vc.CustomerID == "" {
				return fmt.Errorf("venues.bitstamp.customer_id is required in trade mode")
			}
		}
	}

	if cfg.Logging.CloudWatch.Enabled && cfg.Logging.CloudWatch.Region == "" {
		return fmt.Errorf("logging.cloudwatch.region is required when CloudWatch is enabled")
	}

	return nil
}

var marketTypeRegexp = regexp.MustCompile(`^[a-z0-9]{4,16}$`)

// isValidMarketType accepts local market types such as "ethbtc".
func isValidMarketType(name string) bool {
	return marketTypeRegexp.MatchString(name)
}
