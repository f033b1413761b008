// Package main is the entry point for the allocator HTTP service.
//
// The service exposes the multi-start allocation engine over HTTP, records
// every run in SQLite, streams progress events and optionally re-optimizes a
// universe file on a cron schedule.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/di"
	"github.com/aristath/allocator/internal/server"
	"github.com/aristath/allocator/pkg/logger"
)

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

	log.Info().Msg("Starting allocator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		DataDir:    cfg.DataDir,
		RunsDB:     container.RunsDB,
		CacheDB:    container.CacheDB,
		Allocation: container.AllocationService,
		EventBus:   container.EventBus,
		Metrics:    container.Metrics,
		Scheduler:  jobs.Scheduler,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	jobs.Scheduler.Start()
	if cfg.Schedule != "" {
		log.Info().
			Str("schedule", cfg.Schedule).
			Str("universe", cfg.UniverseFile).
			Msg("Universe re-optimization scheduled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Waits for a running universe job to finish
	jobs.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}
