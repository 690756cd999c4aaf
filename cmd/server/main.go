// Package main is the entry point for the arena server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/di"
	"github.com/aristath/arena/internal/scheduler"
	"github.com/aristath/arena/internal/server"
	"github.com/aristath/arena/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet
		bootLog := logger.New(logger.Config{Level: "info"})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting arena")

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PolicyPath).Msg("Failed to load risk policy")
	}

	sched := scheduler.New(log)

	container, _, err := di.Wire(cfg, policy, sched, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing resources")
		}
	}()

	dbs := container.Databases()
	monitored := make([]server.MonitoredDB, 0, len(dbs))
	for _, db := range dbs {
		monitored = append(monitored, db)
	}

	srv := server.New(server.Config{
		Log:         log,
		Databases:   monitored,
		DataDir:     cfg.DataDir,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Cycles:      container.Orchestrator,
		Brokers:     container.Brokers,
		Events:      container.EventManager,
		Health:      container.HealthTracker,
		Safety:      container.SafetyService,
		MarketHours: container.MarketHours,
		Regime:      container.RegimeBuilder,
		Agents:      container.AgentRepo,
		Positions:   container.PositionRepo,
		Trades:      container.TradeRepo,
		Snapshots:   container.SnapshotRepo,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server.NewStatusMonitor(container.MarketHours, container.EventManager, log).Start(ctx, time.Minute)

	sched.Start()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	// Waits for a running cycle to finish
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.EventBus.Wait()
	log.Info().Msg("Server stopped")
}
