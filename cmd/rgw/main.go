// Package main implements the robot command gateway entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/adapter/companya"
	"github.com/robot-control/rgw/internal/adapter/companyb"
	"github.com/robot-control/rgw/internal/api"
	"github.com/robot-control/rgw/internal/audit"
	"github.com/robot-control/rgw/internal/auth"
	"github.com/robot-control/rgw/internal/command"
	"github.com/robot-control/rgw/internal/config"
	"github.com/robot-control/rgw/internal/logging"
	"github.com/robot-control/rgw/internal/metrics"
	"github.com/robot-control/rgw/internal/registry"
	"github.com/robot-control/rgw/internal/telemetry"
	"github.com/robot-control/rgw/internal/tracing"
)

// Version is the gateway release.
const Version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rgw: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Step 1: configuration and logging
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting robot command gateway", zap.String("version", Version))

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	// Step 2: vendor adapters
	reg, err := registry.New(buildAdapters(cfg.Vendors, logger)...)
	if err != nil {
		return fmt.Errorf("failed to build vendor registry: %w", err)
	}
	if len(reg.Vendors()) == 0 {
		logger.Warn("no vendors configured; every command will be rejected as UNSUPPORTED_VENDOR")
	}

	// Step 3: observers
	m := metrics.New()
	hub := telemetry.NewHub(cfg.Telemetry, func() map[string]interface{} {
		return map[string]interface{}{"vendors": reg.Vendors(), "version": Version}
	}, logger.Named("telemetry"))

	opts := []command.Option{
		command.WithLogger(logger.Named("dispatcher")),
		command.WithEvents(hub),
		command.WithMetrics(m),
		command.WithTracer(tracing.Tracer()),
	}
	var auditLogger *audit.Logger
	if cfg.Audit.Dir != "" {
		auditLogger, err = audit.NewLogger(cfg.Audit, logger.Named("audit"))
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		opts = append(opts, command.WithAuditLogger(auditLogger))
	}

	// Step 4: dispatcher and API
	dispatcher := command.NewDispatcher(reg, cfg.Timeouts, opts...)

	deps := api.Deps{
		Dispatcher: dispatcher,
		Vendors:    reg,
		Telemetry:  hub,
		Metrics:    m,
		Logger:     logger.Named("api"),
	}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm:    cfg.Auth.Algorithm,
			PublicKeyPEM: cfg.Auth.PublicKeyPEM,
			SecretKey:    cfg.Auth.Secret,
		})
		if err != nil {
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
		deps.Auth = auth.NewMiddleware(verifier, api.WriteAuthError)
	}

	server, err := api.NewServer(deps, cfg.Server, cfg.API)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	logger.Info("gateway started",
		zap.String("addr", cfg.Server.Addr),
		zap.Strings("vendors", reg.Vendors()),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-shutdown:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	// Graceful shutdown: stop streaming first so the server can drain.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Stop()
	if err := server.Stop(stopCtx); err != nil {
		logger.Error("error stopping HTTP server", zap.Error(err))
	}
	if err := reg.Close(); err != nil {
		logger.Error("error closing vendor adapters", zap.Error(err))
	}
	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			logger.Error("error closing audit logger", zap.Error(err))
		}
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.Error("error flushing traces", zap.Error(err))
	}

	logger.Info("gateway shutdown complete")
	return runErr
}

// buildAdapters creates an adapter for every vendor with a configured
// endpoint.
func buildAdapters(cfg config.VendorsConfig, logger *zap.Logger) []adapter.VendorAdapter {
	var adapters []adapter.VendorAdapter
	if cfg.CompanyA.BaseURL != "" {
		adapters = append(adapters, companya.New(companya.NewHTTPClient(cfg.CompanyA.BaseURL, cfg.CompanyA.APIKey, cfg.CompanyA.Timeout)))
		logger.Info("vendor registered", zap.String("vendor", companya.VendorID), zap.String("baseURL", cfg.CompanyA.BaseURL))
	}
	if cfg.CompanyB.Endpoint != "" {
		adapters = append(adapters, companyb.New(companyb.NewRPCClient(cfg.CompanyB.Endpoint, cfg.CompanyB.Timeout)))
		logger.Info("vendor registered", zap.String("vendor", companyb.VendorID), zap.String("endpoint", cfg.CompanyB.Endpoint))
	}
	return adapters
}
