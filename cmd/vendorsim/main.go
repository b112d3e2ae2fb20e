// Package main runs the vendor simulator: the Company A REST API and the
// Company B JSON-RPC API over one simulated robot.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/robot-control/rgw/internal/config"
	"github.com/robot-control/rgw/internal/logging"
	"github.com/robot-control/rgw/internal/vendorsim"
)

func main() {
	configPath := flag.String("config", os.Getenv("VENDORSIM_CONFIG"), "path to the simulator YAML config")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := logging.New(config.LogConfig{Level: *logLevel})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := vendorsim.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("starting vendor simulator",
		zap.String("companyA", cfg.Network.CompanyA.Addr),
		zap.String("companyB", cfg.Network.CompanyB.Addr),
		zap.String("mode", cfg.Mode),
		zap.Int("stepLatencyMs", cfg.Timing.StepLatencyMs),
	)

	sim := vendorsim.New(cfg, logger)
	simErr := make(chan error, 1)
	go func() {
		simErr <- sim.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-simErr:
		if err != nil {
			logger.Error("simulator failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sim.Stop(ctx); err != nil {
		logger.Error("simulator shutdown error", zap.Error(err))
	}
	logger.Info("simulator stopped")
}
