package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/analysis"
	"futures-signal-bot/internal/api"
	"futures-signal-bot/internal/binance"
	"futures-signal-bot/internal/cache"
	"futures-signal-bot/internal/collector"
	"futures-signal-bot/internal/database"
	"futures-signal-bot/internal/events"
	"futures-signal-bot/internal/logging"
	"futures-signal-bot/internal/metrics"
	"futures-signal-bot/internal/notification"
	"futures-signal-bot/internal/secrets"
	sig "futures-signal-bot/internal/signal"
	"futures-signal-bot/internal/stats"
	"futures-signal-bot/internal/tracker"
	"futures-signal-bot/internal/universe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Bins holding more than this multiple of the average profile volume become
// levels.
const levelClusterMultiplier = 2.0

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve runtime credentials before anything connects.
	resolver, err := secrets.NewResolver(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize secret resolver: %v", err)
	}
	cfg.DatabaseConfig.Password = resolver.Resolve(ctx, secrets.KeyDatabasePassword, cfg.DatabaseConfig.Password)
	cfg.NotificationConfig.Telegram.BotToken = resolver.Resolve(ctx, secrets.KeyTelegramBotToken, cfg.NotificationConfig.Telegram.BotToken)

	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)

	cacheService := cache.NewService(cfg.RedisConfig)

	eventBus := events.NewEventBus()
	notifyManager := notification.NewManager(cfg.NotificationConfig)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	rateLimiter := binance.NewRateLimiter(cfg.BinanceConfig.RateLimitWeight)
	client := binance.NewClient(cfg.BinanceConfig.RESTBaseURL, rateLimiter)

	// Select the tradable universe; a dead exchange endpoint at boot falls
	// back to the last persisted set.
	selector := universe.NewSelector(cfg.UniverseConfig, client, repo, cacheService, eventBus)
	active, err := selector.Scan(ctx)
	if err != nil {
		logger.WithError(err).Warn("Initial universe scan failed, loading last persisted set")
		active, err = repo.GetActiveSymbols(ctx)
		if err != nil {
			log.Fatalf("Failed to load active symbols: %v", err)
		}
	}
	if len(active) == 0 {
		log.Fatalf("No tradable symbols selected")
	}
	m.ActiveSymbols.Set(float64(len(active)))
	logger.Info("Universe selected", "symbols", len(active))

	preloadKlines(ctx, client, repo, active, cfg.LevelsConfig.ProfileHours, logger)

	flows := analysis.NewFlowRegistry(cfg.SignalConfig.LargeTradePercentile, cfg.SignalConfig.LargeTradeFloorUSD)
	coll := collector.New(cacheService, flows, repo, m)

	stream := binance.NewStream(cfg.BinanceConfig.StreamBaseURL, active, coll.Handlers())
	stream.SetReconnectHook(func() { m.StreamReconnects.Inc() })
	go stream.Run(ctx)

	volatility := analysis.NewVolatilityEstimator(repo, cfg.SignalConfig.ATRPeriod, cfg.LevelsConfig.WorkingRangeMultiplier)
	levels := analysis.NewLevelsAnalyzer(repo, cfg.LevelsConfig.BinSizePct, levelClusterMultiplier, cfg.LevelsConfig.ProfileHours)

	fastTracker := tracker.NewFastTracker(cfg.TrackerConfig, cacheService, repo, eventBus, notifyManager)
	fastTracker.SetInstrumentation(func(elapsed time.Duration) {
		m.TrackerTicks.Inc()
		m.TickDuration.Observe(elapsed.Seconds())
	})
	go fastTracker.Run(ctx)

	generator := sig.NewGenerator(cfg.SignalConfig, cfg.LevelsConfig, cacheService, repo, client,
		volatility, levels, eventBus, notifyManager)
	generator.SetOpenChecker(fastTracker.HasOpen)

	// The active set is shared between the entry loop, the kline backfill
	// and the universe-update subscriber.
	var symbolsMu sync.RWMutex
	activeSymbols := active
	currentSymbols := func() []string {
		symbolsMu.RLock()
		defer symbolsMu.RUnlock()
		return activeSymbols
	}

	eventBus.Subscribe(events.EventUniverseUpdated, func(e events.Event) {
		symbols, ok := e.Data["symbols"].([]string)
		if !ok {
			return
		}
		symbolsMu.Lock()
		activeSymbols = symbols
		symbolsMu.Unlock()

		activeSet := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			activeSet[s] = true
		}
		stream.SetSymbols(symbols)
		flows.Retain(activeSet)
		generator.Gate().CleanupInactive(activeSet)
		m.ActiveSymbols.Set(float64(len(symbols)))
		notifyManager.NotifyUniverse(ctx, symbols)
		logger.Info("Universe updated", "symbols", len(symbols))
	})
	eventBus.Subscribe(events.EventSignalGenerated, func(e events.Event) {
		priority, _ := e.Data["priority"].(string)
		m.SignalsEmitted.WithLabelValues(priority).Inc()
	})
	eventBus.Subscribe(events.EventSignalClosed, func(e events.Event) {
		reason, _ := e.Data["exit_reason"].(string)
		m.SignalsClosed.WithLabelValues(reason).Inc()
	})
	eventBus.Subscribe(events.EventError, func(e events.Event) {
		source, _ := e.Data["source"].(string)
		message, _ := e.Data["message"].(string)
		logger.Error("Component error reported", "source", source, "message", message)
	})

	// Entry gate: every tick evaluates every active symbol against the
	// cached snapshots.
	go func() {
		ticker := time.NewTicker(cfg.TrackerConfig.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, symbol := range currentSymbols() {
					if _, err := generator.EvaluateSymbol(ctx, symbol); err != nil {
						logger.WithError(err).Warn("Entry evaluation failed", "symbol", symbol)
					}
				}
			}
		}
	}()

	// REST backfill repairs 1m candle gaps the stream may have missed.
	go func() {
		ticker := time.NewTicker(cfg.SignalConfig.GenerationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				syncRecentKlines(ctx, client, repo, currentSymbols(), logger)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				healthy := 0.0
				if cacheService.IsHealthy() {
					healthy = 1
				}
				m.CacheHealthy.Set(healthy)
				m.OpenSignals.Set(float64(fastTracker.OpenCount()))
			}
		}
	}()

	go selector.Run(ctx)

	monitor := stats.NewMonitor(repo, time.Hour)
	go monitor.Run(ctx)

	server := api.NewServer(cfg.ServerConfig, repo, db.Pool, cacheService, registry)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	notifyManager.NotifyStartup(ctx, len(active))
	eventBus.Publish(events.Event{
		Type: events.EventEngineStarted,
		Data: map[string]interface{}{"symbols": len(active)},
	})
	logger.Info("Signal engine started",
		"symbols", len(active),
		"api_addr", cfg.ServerConfig.Host,
		"api_port", cfg.ServerConfig.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")
	eventBus.Publish(events.Event{Type: events.EventEngineStopped})
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}

	stream.Close()
	if err := cacheService.Close(); err != nil {
		logger.WithError(err).Warn("Cache close failed")
	}
	logger.Info("Shutdown complete")
}

// preloadKlines seeds enough 1m history for the volatility estimator and the
// volume profile before the stream takes over.
func preloadKlines(ctx context.Context, client *binance.Client, repo *database.Repository, symbols []string, profileHours int, logger *logging.Logger) {
	limit := profileHours * 60
	if limit > 500 {
		limit = 500
	}

	for _, symbol := range symbols {
		klines, err := client.GetKlines(ctx, symbol, "1m", limit, binance.PriorityLow)
		if err != nil {
			logger.WithError(err).Warn("Kline preload failed", "symbol", symbol)
			continue
		}
		if err := upsertKlines(ctx, repo, symbol, klines); err != nil {
			logger.WithError(err).Warn("Kline preload persist failed", "symbol", symbol)
		}
	}
	logger.Info("Kline history preloaded", "symbols", len(symbols), "candles_per_symbol", limit)
}

// syncRecentKlines refetches the last few candles per symbol. The upsert is
// idempotent, so overlap with streamed candles is harmless.
func syncRecentKlines(ctx context.Context, client *binance.Client, repo *database.Repository, symbols []string, logger *logging.Logger) {
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		klines, err := client.GetKlines(ctx, symbol, "1m", 5, binance.PriorityNormal)
		if err != nil {
			logger.WithError(err).Debug("Kline backfill failed", "symbol", symbol)
			continue
		}
		if err := upsertKlines(ctx, repo, symbol, klines); err != nil {
			logger.WithError(err).Debug("Kline backfill persist failed", "symbol", symbol)
		}
	}
}

func upsertKlines(ctx context.Context, repo *database.Repository, symbol string, klines []binance.RESTKline) error {
	// The last row is the still-forming candle; only closed candles are
	// persisted.
	if len(klines) > 0 {
		klines = klines[:len(klines)-1]
	}
	for _, k := range klines {
		candle := &database.Kline{
			Symbol:    symbol,
			Interval:  "1m",
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
		if err := repo.UpsertKline(ctx, candle); err != nil {
			return err
		}
	}
	return nil
}
