package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradecore/config"
	"tradecore/internal/exchange"
	"tradecore/internal/market"
	"tradecore/internal/order"
	"tradecore/internal/registry"
	"tradecore/internal/venue/binance"
	"tradecore/internal/venue/bitstamp"
	"tradecore/internal/venue/kraken"
	"tradecore/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradecore.Name,
		"version": cfg.Tradecore.Version,
		"env":     config.AppEnvironment(),
		"trade":   cfg.Session.Trade,
	}).Info("starting tradecore")

	if cw := cfg.Logging.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(logger.CloudWatchOptions{
			Region:          cw.Region,
			Namespace:       cw.Namespace,
			Dashboard:       cw.DashboardName,
			AccessKeyID:     cw.AccessKeyID,
			SecretAccessKey: cw.SecretAccessKey,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	reg := registry.Default()
	if cfg.Registry.Path != "" {
		reg, err = registry.Load(cfg.Registry.Path)
		if err != nil {
			log.WithError(err).Error("failed to load registry")
			os.Exit(1)
		}
	}

	var shards *config.IPShards
	if cfg.Reader.ShardsPath != "" {
		shards, err = config.LoadIPShards(cfg.Reader.ShardsPath)
		if err != nil {
			if config.IsProductionLike(config.AppEnvironment()) {
				log.WithError(err).Error("failed to load shard configuration")
				os.Exit(1)
			}
			log.WithError(err).Warn("failed to load shard configuration, using default route")
		}
	}

	exchanges := make([]*exchange.Exchange, 0, 3)
	for name, vc := range cfg.Venues.Enabled() {
		e, err := startVenue(ctx, cfg, reg, shards, name, vc)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"venue": name}).Error("failed to start venue")
			for _, started := range exchanges {
				_ = started.Close()
			}
			os.Exit(1)
		}
		exchanges = append(exchanges, e)
	}
	log.WithFields(logger.Fields{"venues": len(exchanges)}).Info("all venues started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		for _, e := range exchanges {
			log.WithFields(logger.Fields{"venue": e.Name()}).Info("closing session")
			if err := e.Close(); err != nil {
				log.WithError(err).WithFields(logger.Fields{"venue": e.Name()}).Warn("session closed with error")
			}
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tradecore stopped")
}

// startVenue builds the session of one venue and initializes its markets.
func startVenue(ctx context.Context, cfg *config.Config, reg *registry.Registry, shards *config.IPShards, name string, vc config.VenueConfig) (*exchange.Exchange, error) {
	log := logger.GetLogger()

	settings, err := exchange.SettingsFromRegistry(reg, name)
	if err != nil {
		return nil, err
	}
	settings.Depth = cfg.Session.Depth
	settings.StaggerDelay = cfg.Session.StaggerDelay
	settings.PollInterval = cfg.Session.PollInterval
	settings.MaxNonceRetries = cfg.Session.MaxNonceRetries
	if cfg.Session.MaxNonceRetries == 0 {
		settings.MaxNonceRetries = -1
	}

	// the documented venue budget caps the configured rate
	rps, burst := cfg.Reader.RateLimit.RequestsPerSecond, cfg.Reader.RateLimit.BurstSize
	if v, ok := reg.Venue(name); ok && v.Frequency > 0 && v.Frequency < rps {
		rps = v.Frequency
		burst = min(burst, v.Frequency)
	}

	sourceIP := shards.IPFor(name, vc.Markets)
	client := exchange.NewHTTPClient(exchange.ClientConfig{
		Timeout:           cfg.Reader.Timeout,
		UserAgent:         cfg.Reader.UserAgent,
		SourceIP:          sourceIP,
		RequestsPerSecond: rps,
		Burst:             burst,
		MaxIdleConns:      cfg.Reader.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:   cfg.Reader.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:   cfg.Reader.ConnectionPool.IdleConnTimeout,
	})

	session := exchange.NewSession(name, settings, log)
	var venue exchange.Venue
	switch name {
	case binance.Name:
		venue = binance.New(session, binance.Config{
			RestURL:    vc.RestURL,
			APIKey:     vc.APIKey,
			APISecret:  vc.APISecret,
			HTTPClient: client,
			UsedWeight: cfg.Metrics.UsedWeight,
		})
	case kraken.Name:
		venue, err = kraken.New(session, kraken.Config{
			RestURL:    vc.RestURL,
			APIKey:     vc.APIKey,
			APISecret:  vc.APISecret,
			HTTPClient: client,
		})
	case bitstamp.Name:
		venue = bitstamp.New(session, bitstamp.Config{
			RestURL:    vc.RestURL,
			WsURL:      vc.WsURL,
			APIKey:     vc.APIKey,
			APISecret:  vc.APISecret,
			CustomerID: vc.CustomerID,
			SourceIP:   sourceIP,
			HTTPClient: client,
		})
	default:
		err = fmt.Errorf("unsupported venue %q", name)
	}
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	e := exchange.New(session, venue)
	markets, err := e.Init(ctx, vc.Markets, exchange.Options{Trade: cfg.Session.Trade})
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	for _, m := range markets {
		watchTop(e, m)
	}
	e.SubscribeOrders(func(orders []*order.Order) {
		e.Log().WithFields(logger.Fields{"open_orders": len(orders)}).Debug("orders changed")
	})

	e.Log().WithFields(logger.Fields{
		"markets":   len(markets),
		"source_ip": sourceIP,
	}).Info("venue ready")
	return e, nil
}

// watchTop logs top-of-book changes of m at debug level.
func watchTop(e *exchange.Exchange, m *market.Market) {
	name := e.Name() + "_" + m.Type
	listener := func(side market.Side, top market.BookOrder, ok bool) {
		logger.RecordChannelMessage(name+"_top", 1)
		if !ok {
			return
		}
		e.Log().WithFields(logger.Fields{
			"market": m.Type,
			"side":   side.String(),
			"rate":   top.Rate,
			"amount": top.Amount,
			"spread": m.SpreadPercent(),
		}).Debug("top of book changed")
	}
	m.Book(market.Buy).OnTop(listener)
	m.Book(market.Sell).OnTop(listener)
}
