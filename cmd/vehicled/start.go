package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockcar/vehicled/internal/api"
	"github.com/blockcar/vehicled/internal/config"
	"github.com/blockcar/vehicled/internal/events"
	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/lock"
	"github.com/blockcar/vehicled/internal/log"
	"github.com/blockcar/vehicled/internal/supervisor"
)

// writeMargin keeps the HTTP write deadline past the longest execution.
const writeMargin = 30 * time.Second

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("vehicled starting",
		"version", currentVersionInfo().Version,
		"vehicle_id", cfg.Vehicle.ID,
		"config", cfg.SourceFile,
		"config_hash", cfg.SourceHash,
	)

	devLock, err := lock.Acquire(cfg.Service.LockPath, cfg.Vehicle.ID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			logger.Error("another vehicled instance owns this vehicle", "error", err, "lock", cfg.Service.LockPath)
		} else {
			logger.Error("failed to acquire device lock", "error", err)
		}
		return 1
	}
	defer func() {
		if err := devLock.Release(); err != nil {
			logger.Error("failed to release device lock", "error", err)
		}
	}()

	sim := hal.NewSimulator(simulatorConfig(cfg))
	hub := events.NewHub(events.DefaultCapacity)
	sup := supervisor.New(sim, supervisorConfig(cfg),
		supervisor.WithPublisher(hub),
		supervisor.WithLogger(log.WithComponent("supervisor")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen:       cfg.API.Listen,
			VehicleID:    cfg.Vehicle.ID,
			APIKey:       cfg.API.Auth.APIKey,
			MaxBodyBytes: cfg.API.MaxBodyBytes,
			WriteTimeout: cfg.Execution.MaxTimeout + writeMargin,
		}, sup, hub, sim, log.WithComponent("api"))
		go func() {
			errCh <- srv.Start(ctx)
		}()
	} else {
		logger.Warn("api disabled; nothing will accept scripts")
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		// Interrupt first so an in-flight POST /api/execute can return
		// before the server's shutdown deadline.
		sup.StopExecution()
		if cfg.API.Enabled {
			if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("api server shutdown failed", "error", err)
				exitCode = 1
			}
		}
	case err := <-errCh:
		logger.Error("api server failed", "error", err)
		exitCode = 1
		sup.StopExecution()
	}

	if err := sim.Stop(); err != nil {
		logger.Error("failed to stop motors on shutdown", "error", err)
		exitCode = 1
	}
	logger.Info("vehicled stopped")
	return exitCode
}
