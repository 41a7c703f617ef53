package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mt5-trading-bot/config"
	"mt5-trading-bot/internal/api"
	"mt5-trading-bot/internal/events"
	"mt5-trading-bot/internal/logging"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/position"
	"mt5-trading-bot/internal/predictor"
	"mt5-trading-bot/internal/risk"
	"mt5-trading-bot/internal/signal"
	"mt5-trading-bot/internal/state"
	"mt5-trading-bot/internal/stats"
	"mt5-trading-bot/internal/trader"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.Default()
		fallback.Fatal().Err(err).Msg("loading configuration")
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	})
	logging.SetDefault(logger)
	logger.Info().
		Strs("symbols", cfg.TradingConfig.Symbols).
		Bool("dry_run", cfg.TradingConfig.DryRun).
		Str("risk_profile", cfg.RiskConfig.Profile).
		Msg("starting trading engine")

	eventBus := events.NewEventBus()

	var client mt5.Client
	if cfg.TradingConfig.DryRun {
		logger.Warn().Msg("dry run mode, using simulated venue")
		client = mt5.NewMockClient()
	} else {
		client = mt5.NewGatewayClient(
			cfg.GatewayConfig.BaseURL,
			cfg.GatewayConfig.Token,
			cfg.GatewayConfig.Timeout,
			cfg.GatewayConfig.MaxQuoteAge,
		)
	}

	var pred predictor.Predictor
	if cfg.ModelConfig.Enabled {
		onnx, err := predictor.NewOnnxPredictor(cfg.ModelConfig.Dir, cfg.ModelConfig.LibraryPath, cfg.TradingConfig.Symbols, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("predictor unavailable, running technical-only")
			pred = predictor.Disabled()
		} else {
			pred = onnx
		}
	} else {
		pred = predictor.Disabled()
	}
	defer pred.Close()

	store := state.NewStore()
	for _, symbol := range cfg.TradingConfig.Symbols {
		store.Register(symbol, cfg.TradingConfig.BaseVolume, cfg.TradingConfig.ProfitThreshold, cfg.TradingConfig.MinProfitThreshold)
	}
	global := state.NewGlobalState(cfg.TradingConfig.Conservative)

	profile, err := loadProfile(cfg.RiskConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading risk profile")
	}
	riskEngine := risk.NewEngine(store, profile, logger)

	signalCfg := signal.DefaultConfig()
	signalCfg.Timeframe = mt5.Timeframe(cfg.SignalConfig.Timeframe)
	signalCfg.BarCount = cfg.SignalConfig.Bars
	signalEngine := signal.NewEngine(signalCfg, client, pred, store, global, riskEngine, logger)

	positionCfg := position.DefaultConfig()
	positionCfg.Timeframe = signalCfg.Timeframe
	positionManager := position.NewManager(positionCfg, client, store, global, riskEngine, eventBus, logger)

	traders := trader.NewManager(cfg.TradingConfig.Symbols, trader.DefaultConfig(), client, signalEngine, positionManager, store, global, riskEngine, eventBus, logger)

	tracker := stats.NewTracker(eventBus, logger)
	reportStop := make(chan struct{})
	go tracker.RunPeriodicReports(cfg.StatsConfig.ReportInterval, reportStop)

	var stopOnce sync.Once
	stopped := make(chan struct{})
	stop := func() {
		stopOnce.Do(func() {
			global.RequestShutdown()
			close(stopped)
		})
	}

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowOrigins:   cfg.ServerConfig.AllowedOrigins,
	}, api.Deps{
		Client:   client,
		Store:    store,
		Global:   global,
		Tracker:  tracker,
		Bus:      eventBus,
		Shutdown: stop,
	}, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	traders.StartAll()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		stop()
	case <-stopped:
	}

	shutdown(cfg, logger, traders, positionManager, server, tracker, reportStop)
}

// shutdown stops the traders, optionally flattens the book, and tears
// down the reporting and HTTP layers.
func shutdown(cfg *config.Config, logger zerolog.Logger, traders *trader.Manager, positions *position.Manager, server *api.Server, tracker *stats.Tracker, reportStop chan struct{}) {
	logger.Info().Msg("shutting down")

	traders.StopAll()

	if cfg.TradingConfig.CloseOnShutdown {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := positions.CloseAll(ctx); err != nil {
			logger.Error().Err(err).Msg("closing positions on shutdown")
		}
		cancel()
	}

	close(reportStop)
	tracker.Report()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}

// loadProfile resolves the risk profile from the builtin set, with
// optional yaml overrides from the profiles directory.
func loadProfile(cfg config.RiskConfig, logger zerolog.Logger) (risk.Profile, error) {
	if cfg.ProfilesDir != "" {
		profile, err := risk.LoadProfile(cfg.ProfilesDir, cfg.Profile)
		if err == nil {
			logger.Info().Str("profile", cfg.Profile).Str("dir", cfg.ProfilesDir).Msg("risk profile loaded from file")
			return profile, nil
		}
		logger.Warn().Err(err).Msg("profile file unavailable, using builtin")
	}
	return risk.BuiltinProfile(cfg.Profile)
}
