package main

import (
	"context"
	"database/sql"
	"fmt"
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
	"github.com/pietro1412/fantacontratti/internal/gateway"
	"github.com/pietro1412/fantacontratti/internal/league"
	"github.com/pietro1412/fantacontratti/internal/market"
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

	port := getEnv("GATEWAY_PORT", "8081")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")

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
		Str("nats_url", natsURL).
		Str("port", port).
		Msg("starting market gateway")

	// Read-only view of the market engine for the state endpoint
	marketApp, auctionApp := setupMarketApps(db)
	stateProvider := gateway.NewMarketStateProvider(marketApp, auctionApp)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.URL = natsURL

	gatewayService, err := gateway.NewService(gatewayConfig, stateProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := gatewayService.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"market-gateway","connections":%d}`,
			stats["total_connections"])
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      gateway.CORSMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
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
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give the consumer time to clean up
	time.Sleep(1 * time.Second)

	log.Info().Msg("market gateway shutdown complete")
}

func setupMarketApps(db *sql.DB) (*market.App, *auction.App) {
	leagueApp := league.NewApp(league.NewRepository(db))
	budgetApp := budget.NewApp(budget.NewRepository(db))
	rosterRepo := roster.NewRepository(db)
	rosterApp := roster.NewApp(rosterRepo)
	outboxApp := outbox.NewApp(outbox.NewRepository(db))
	auctionApp := auction.NewApp(auction.NewRepository(db, rosterRepo), rosterApp, budgetApp, outboxApp)

	marketApp := market.NewApp(market.NewRepository(db), leagueApp, rosterApp, budgetApp, auctionApp, outboxApp,
		clockwork.NewRealClock(), market.DefaultConfig())

	return marketApp, auctionApp
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
