package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/robot-control/rgw/internal/auth"
	"github.com/robot-control/rgw/internal/config"
	"github.com/robot-control/rgw/internal/metrics"
)

// Deps are the collaborators the server routes to. Dispatcher and Vendors
// are required; the rest may be nil.
type Deps struct {
	Dispatcher DispatcherPort
	Vendors    VendorLister
	Telemetry  TelemetryPort
	Metrics    *metrics.Metrics
	// Auth enables bearer token checks when non-nil.
	Auth   *auth.Middleware
	Logger *zap.Logger
}

// Server represents the HTTP API server.
type Server struct {
	dispatcher     DispatcherPort
	vendors        VendorLister
	telemetryHub   TelemetryPort
	metrics        *metrics.Metrics
	authMiddleware *auth.Middleware
	logger         *zap.Logger

	serverCfg          config.ServerConfig
	exposeVendorDetail bool
	startTime          time.Time
	httpServer         *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, serverCfg config.ServerConfig, apiCfg config.APIConfig) (*Server, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Vendors == nil {
		return nil, errors.New("vendor lister is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		dispatcher:         deps.Dispatcher,
		vendors:            deps.Vendors,
		telemetryHub:       deps.Telemetry,
		metrics:            deps.Metrics,
		authMiddleware:     deps.Auth,
		logger:             logger,
		serverCfg:          serverCfg,
		exposeVendorDetail: apiCfg.ExposeVendorDetail,
		startTime:          time.Now(),
	}, nil
}

// Start serves HTTP on the configured address until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.serverCfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.serverCfg.ReadTimeout,
		WriteTimeout: s.serverCfg.WriteTimeout,
		IdleTimeout:  s.serverCfg.IdleTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", s.serverCfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
