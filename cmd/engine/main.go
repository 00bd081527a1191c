// The engine binary runs the AI trading agent swarm: five cooperating agents
// behind an HTTP/WebSocket API, driven by a periodic scheduler.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Leblepito/uAlgoTrade/internal/agents"
	"github.com/Leblepito/uAlgoTrade/internal/alerts"
	"github.com/Leblepito/uAlgoTrade/internal/api"
	"github.com/Leblepito/uAlgoTrade/internal/bus"
	"github.com/Leblepito/uAlgoTrade/internal/config"
	"github.com/Leblepito/uAlgoTrade/internal/db"
	"github.com/Leblepito/uAlgoTrade/internal/decision"
	"github.com/Leblepito/uAlgoTrade/internal/feeds"
	"github.com/Leblepito/uAlgoTrade/internal/market"
	"github.com/Leblepito/uAlgoTrade/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("app", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Engine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer database.Close()

	if cfg.Database.RunDDL {
		if err := database.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Schema migration failed")
		}
	}

	// Shared infrastructure
	eventBus := bus.New()
	actx := agents.NewContext(database, eventBus, cfg)
	candleProvider := market.NewProvider(market.NewBinanceSource())
	feedFetcher := feeds.NewRSSFetcher()

	// The swarm
	alphaScout := agents.NewAlphaScout(actx, feedFetcher)
	technicalAnalyst := agents.NewTechnicalAnalyst(actx)
	riskSentinel := agents.NewRiskSentinel(actx)
	quantLab := agents.NewQuantLab(actx)
	engine := decision.NewEngine(database, cfg.Risk.EngineMinConfidence)
	orchestrator := agents.NewOrchestrator(actx, candleProvider, alphaScout,
		technicalAnalyst, riskSentinel, quantLab, engine,
		agents.FixedSizer{Quantity: cfg.Trading.DefaultQuantity})
	orchestrator.SetNotifier(alerts.NewTelegramNotifier(cfg.Telegram))

	// Periodic jobs
	sched := scheduler.New(cfg, orchestrator, riskSentinel, quantLab, []agents.Agent{
		alphaScout, technicalAnalyst, riskSentinel, orchestrator, quantLab,
	})
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Scheduler start failed")
	}

	// HTTP API + WebSocket fan-out
	server := api.NewServer(cfg, database, orchestrator, riskSentinel, eventBus)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}

	log.Info().Msg("Engine stopped")
}
