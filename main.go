package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/internal/api"
	"tradepipe/internal/events"
	"tradepipe/internal/execution"
	"tradepipe/internal/ingest"
	"tradepipe/internal/risk"
	"tradepipe/internal/secrets"
	"tradepipe/internal/strategy"
	"tradepipe/pkg/cache"
	"tradepipe/pkg/circuit"
	"tradepipe/pkg/config"
	"tradepipe/pkg/exchange/binance"
	"tradepipe/pkg/store"
	"tradepipe/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().
		Str("mode", cfg.TradingMode.Mode).
		Strs("symbols", cfg.Symbols).
		Msg("starting tradepipe")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("pipeline stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mode := types.ParseTradingMode(cfg.TradingMode.Mode)

	// Shared cache and event bus. Redis backs both when reachable; a
	// single-process deployment falls back to the in-memory pair.
	var (
		c   cache.Cache
		bus events.Bus
	)
	busBreaker := circuit.NewBreaker("bus", 3, 15*time.Second)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	err := rdb.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).
			Msg("redis unreachable; using in-process cache and bus")
		_ = rdb.Close()
		c = cache.NewMemory()
		bus = events.NewLocalBus(logger)
	} else {
		c = cache.NewRedis(rdb)
		remote := events.NewRemoteBus(rdb, busBreaker, "tradepipe", logger)
		defer remote.Close()
		bus = remote
		defer rdb.Close()
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// Exchange clients. Credentials stay in the environment and are
	// resolved on the first signed request.
	creds := secrets.NewLazy(secrets.Env{}, cfg.Exchange.APIKeyName, cfg.Exchange.APISecretName)
	client := binance.NewClient(binance.Config{
		BaseURL:    cfg.Exchange.BaseURL,
		UseTestnet: cfg.Exchange.UseTestnet,
	}, func(ctx context.Context) (binance.Credentials, error) {
		vals, err := creds.Load(ctx)
		if err != nil {
			return binance.Credentials{}, err
		}
		return binance.Credentials{APIKey: vals[0], APISecret: vals[1]}, nil
	}, logger)

	// Market data: websocket stream with REST polling fallback, or a
	// deterministic replay feed when not trading against the venue.
	feedBreaker := circuit.NewBreaker("feed", 5, 30*time.Second)
	var primary, fallback ingest.MarketDataProvider
	if mode == types.ModeBacktest || mode == types.ModeSimulation {
		primary = ingest.NewReplayProvider(cfg.Symbols, cfg.TradingMode.ReplaySeed)
	} else {
		streamClient := binance.NewStreamClient(cfg.Exchange.WebSocketURL, cfg.Exchange.UseTestnet, logger)
		primary = ingest.NewStreamProvider(streamClient, cfg.Symbols, feedBreaker, logger)
		fallback = ingest.NewPollProvider(client, cfg.Symbols, 5*time.Second, logger)
	}
	feed := ingest.NewService(bus, c, primary, fallback, feedBreaker, logger)

	// Strategy pool.
	timeframe, err := time.ParseDuration(cfg.Strategy.DefaultTimeframe)
	if err != nil {
		return fmt.Errorf("parse timeframe %q: %w", cfg.Strategy.DefaultTimeframe, err)
	}
	engine := strategy.NewEngine(bus, timeframe, cfg.Strategy.DefaultTimeframe, cfg.Strategy.MinConfidenceScore, logger)
	for _, name := range cfg.Strategy.EnabledStrategies {
		switch name {
		case "ma_cross":
			engine.Register(strategy.NewMACross(10, 30))
		case "rsi_reversal":
			engine.Register(strategy.NewRSIReversal(14))
		case "band_bounce":
			engine.Register(strategy.NewBandBounce(20, 2.0))
		default:
			logger.Warn().Str("strategy", name).Msg("unknown strategy in config; skipping")
		}
	}

	// Risk layer.
	startingEquity, err := decimal.NewFromString(cfg.Risk.StartingEquity)
	if err != nil {
		return fmt.Errorf("parse startingEquity %q: %w", cfg.Risk.StartingEquity, err)
	}
	limits := risk.NewLimits(types.RiskLimits{
		MaxRiskPerTradePercent: cfg.Risk.MaxRiskPerTradePercent,
		MaxDrawdownPercent:     cfg.Risk.MaxDrawdownPercent,
		MinRiskRewardRatio:     cfg.Risk.MinRiskRewardRatio,
		MaxOpenPositions:       cfg.Risk.MaxOpenPositions,
		MaxDailyLoss:           cfg.Risk.MaxDailyLoss,
		KillSwitchEnabled:      cfg.Risk.KillSwitchEnabled,
	})
	killSwitch := risk.NewKillSwitch(bus, logger)
	monitor := risk.NewMonitor(c, limits, killSwitch, startingEquity, logger)
	riskMgr := risk.NewManager(bus, limits, killSwitch, monitor, risk.NewSizer(nil), logger)

	// Execution layer.
	orderBreaker := circuit.NewBreaker("orders", 5, 30*time.Second)
	live := execution.NewLive(client, orderBreaker, logger)
	paper := execution.NewPaper(c, cfg.TradingMode.PaperFillLatency(), logger)
	modeProvider := execution.NewModeProvider(mode, logger)
	tracker := execution.NewTracker()
	execEngine := execution.NewEngine(bus, modeProvider, live, paper, tracker, db,
		cfg.TradingMode.AutoFallbackToPaperOnCircuitOpen, logger)
	pending := execution.NewPendingMonitor(execEngine, cfg.TradingMode.OrderTimeout(), logger)
	snapshots := execution.NewSnapshotPublisher(tracker, c, startingEquity, logger)

	// Operator API.
	server := api.NewServer(api.Deps{
		Cache:      c,
		Store:      db,
		Breakers:   []*circuit.Breaker{feedBreaker, orderBreaker, busBreaker},
		KillSwitch: killSwitch,
		Strategies: engine,
		Mode:       modeProvider,
		JWTSecret:  cfg.Server.JWTSecret,
	}, logger)

	// Subscriptions before producers start.
	engine.Start(ctx)
	riskMgr.Start()
	execEngine.Start()

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			errc <- fmt.Errorf("market data: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pending.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snapshots.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx, cfg.Server.Addr); err != nil {
			errc <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		cancel()
		wg.Wait()
		return err
	}
	wg.Wait()
	return nil
}
