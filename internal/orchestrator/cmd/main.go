package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pietro1412/fantacontratti/internal/auction"
	"github.com/pietro1412/fantacontratti/internal/budget"
	"github.com/pietro1412/fantacontratti/internal/dbconfig"
	"github.com/pietro1412/fantacontratti/internal/league"
	"github.com/pietro1412/fantacontratti/internal/market"
	"github.com/pietro1412/fantacontratti/internal/orchestrator"
	"github.com/pietro1412/fantacontratti/internal/outbox"
	"github.com/pietro1412/fantacontratti/internal/roster"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	batchSize := 100

	// Database configuration
	dbCfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Msg("starting market orchestrator")

	// Wire up the market engine the coordinator drives
	leagueApp := league.NewApp(league.NewRepository(db))
	budgetApp := budget.NewApp(budget.NewRepository(db))
	rosterRepo := roster.NewRepository(db)
	rosterApp := roster.NewApp(rosterRepo)
	outboxApp := outbox.NewApp(outbox.NewRepository(db))
	auctionApp := auction.NewApp(auction.NewRepository(db, rosterRepo), rosterApp, budgetApp, outboxApp)

	marketRepo := market.NewRepository(db)
	marketApp := market.NewApp(marketRepo, leagueApp, rosterApp, budgetApp, auctionApp, outboxApp,
		clockwork.NewRealClock(), market.DefaultConfig())

	orch := orchestrator.NewOrchestrator(marketRepo, marketApp, batchSize)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info().Msg("starting orchestrator scheduler")
		if err := orch.RunScheduler(ctx); err != nil {
			log.Error().Err(err).Msg("orchestrator scheduler failed")
		}
	}()

	// Add health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":8082",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health check server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health check server shutdown failed")
	}

	cancel()

	// Give the scheduler time to clean up
	time.Sleep(2 * time.Second)

	log.Info().Msg("market orchestrator shutdown complete")
}
