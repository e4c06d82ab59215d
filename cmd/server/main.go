// Package main is the entry point for the eigenrisk covariance estimation service.
// It serves RMT denoising and spiked-covariance shrinkage over HTTP, memoises
// results in a sqlite calculations cache and runs background maintenance jobs.
//
// Startup order:
// 1. Load configuration from the environment (.env) and the estimator profile
// 2. Initialize logging
// 3. Wire dependencies via the DI container (database, cache, services, jobs)
// 4. Start the scheduler and the HTTP server
// 5. Wait for a shutdown signal and stop gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/eigenrisk/internal/config"
	"github.com/aristath/eigenrisk/internal/di"
	"github.com/aristath/eigenrisk/internal/server"
	"github.com/aristath/eigenrisk/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
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
		Str("data_dir", cfg.DataDir).
		Dur("cache_ttl", cfg.CacheTTL).
		Str("profile", cfg.ProfilePath).
		Msg("Starting eigenrisk")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Closing flushes the WAL of the calculations database
	defer container.Close()

	// Drop entries that expired while the service was down
	if err := container.Scheduler.RunNow(jobs.CacheCleanup); err != nil {
		log.Warn().Err(err).Msg("Initial cache cleanup failed")
	}
	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:           log,
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		Container:     container,
		Jobs:          jobs,
		StreamOrigins: cfg.StreamOrigins,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	container.Scheduler.Stop()

	// In-flight estimator runs get 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
