package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quantfall/perpintel/internal/absorption"
	"github.com/quantfall/perpintel/internal/api"
	"github.com/quantfall/perpintel/internal/config"
	"github.com/quantfall/perpintel/internal/db"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/marketdata"
	"github.com/quantfall/perpintel/internal/metrics"
	"github.com/quantfall/perpintel/internal/pipeline"
	"github.com/quantfall/perpintel/internal/replay"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("environment", cfg.App.Environment).Msg("Starting perpintel API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Persistence is optional; without it the engine runs on in-memory
	// stores and absorption tracking stays disabled.
	var database *db.DB
	if url := cfg.Database.DatabaseURL(); url != "" {
		database, err = db.New(ctx, url)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()
	} else {
		log.Warn().Msg("No database configured, running with in-memory stores")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	engine := buildEngine(cfg, database, redisClient)

	if database != nil {
		if err := engine.configs.Hydrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to hydrate config store")
		}
	}
	metrics.SetConfigVersion(engine.configs.ActiveVersion())

	serverCfg := api.Config{
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		Runner:  engine.runner,
		Configs: engine.configs,
		Replay:  engine.orch,
		Labeler: engine.labeler,
		States:  engine.states,
	}
	if database != nil {
		serverCfg.Health = database.Health
	}
	server := api.NewServer(serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

// engineParts bundles the wired analysis stack.
type engineParts struct {
	runner  *pipeline.Runner
	configs *engineconfig.Store
	orch    *replay.Orchestrator
	labeler *replay.Labeler
	states  replay.StateStore
}

func buildEngine(cfg *config.Config, database *db.DB, redisClient *redis.Client) engineParts {
	mdLogger := config.NewLogger("marketdata")
	retail := marketdata.NewCachedProvider(
		marketdata.NewInstrumentedProvider(
			marketdata.NewBinanceProvider(cfg.Exchanges.Binance.APIKey, cfg.Exchanges.Binance.SecretKey, mdLogger)),
		redisClient, cfg.Pipeline.CacheTTL(), mdLogger)
	whale := marketdata.NewCachedProvider(
		marketdata.NewInstrumentedProvider(marketdata.NewBybitProvider(mdLogger)),
		redisClient, cfg.Pipeline.CacheTTL(), mdLogger)

	var absorptionEngine *absorption.Engine
	var configs *engineconfig.Store
	var batches replay.BatchStore
	var states replay.StateStore
	if database != nil {
		pool := database.Pool()
		absorptionEngine = absorption.NewEngine(absorption.NewPGStore(pool), config.NewLogger("absorption"))
		configs = engineconfig.NewStore(engineconfig.NewPGRepository(pool))
		batches = replay.NewPGBatchStore(pool)
		states = replay.NewPGStateStore(pool)
	} else {
		configs = engineconfig.NewStore(nil)
		batches = replay.NewMemBatchStore()
		states = replay.NewMemStateStore()
	}

	plLogger := config.NewLogger("pipeline")
	fetcher := pipeline.NewFetcher(retail, whale, plLogger)
	asm := pipeline.NewAssembler(absorptionEngine, plLogger)
	runner := pipeline.NewRunner(fetcher, asm, plLogger)

	orch := replay.NewOrchestrator(runner, batches, states, configs, config.NewLogger("replay"))
	labeler := replay.NewLabeler(retail, states, config.NewLogger("labeler"))

	return engineParts{
		runner:  runner,
		configs: configs,
		orch:    orch,
		labeler: labeler,
		states:  states,
	}
}
