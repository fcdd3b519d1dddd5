// Package main is the entry point for the DEGIRO portfolio valuation service.
// It imports DEGIRO transaction exports, keeps daily prices, benchmark indices
// and exchange rates up to date, and serves valuation timelines and the
// dashboard over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/degiro-portfolio/internal/config"
	"github.com/aristath/degiro-portfolio/internal/di"
	"github.com/aristath/degiro-portfolio/internal/scheduler"
	"github.com/aristath/degiro-portfolio/internal/server"
	"github.com/aristath/degiro-portfolio/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

// main orchestrates startup:
// 1. Loads configuration from the environment (.env file supported)
// 2. Initializes logging
// 3. Wires databases, repositories, clients and services
// 4. Starts the HTTP server and the job scheduler
// 5. Waits for a shutdown signal and shuts down gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Str("provider", cfg.PriceDataProvider).
		Msg("Starting DEGIRO Portfolio")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Benchmarks are created up front so charts have something to compare
	// against before the first scheduled update.
	go func() {
		created, fetched, err := container.MarketDataService.EnsureIndices(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to ensure benchmark indices")
			return
		}
		log.Info().Int("created", created).Int("prices_fetched", fetched).Msg("Benchmark indices ready")
	}()

	sched := scheduler.New(log)
	if err := di.RegisterJobs(sched, jobs, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      sched,
		Version:   version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Str("addr", cfg.Addr()).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	// Running jobs are allowed to finish before the databases close
	sched.Stop()
	log.Info().Msg("Scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
