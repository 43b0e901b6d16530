// Package api provides the HTTP API for running and streaming port scans.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	apihandlers "github.com/anstrom/portprobe/internal/api/handlers"
	"github.com/anstrom/portprobe/internal/api/middleware"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
)

const serverShutdownTimeout = 30 * time.Second

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics

	scans  *apihandlers.ScanHandler
	health *apihandlers.HealthHandler
}

// New creates a new API server. summaries may be nil when persistence is
// disabled.
func New(
	cfg *config.Config,
	runner apihandlers.ScanRunner,
	summaries apihandlers.SummaryStore,
	pm *metrics.PrometheusMetrics,
	version string,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("scan runner is required")
	}
	if pm == nil {
		pm = metrics.GetGlobalMetrics()
	}

	logger := logging.Default().WithComponent("api")

	var pinger apihandlers.DatabasePinger
	if summaries != nil {
		pinger = summaries
	}

	s := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		logger:  logger,
		metrics: pm,
		scans:   apihandlers.NewScanHandler(runner, summaries, cfg, logger),
		health:  apihandlers.NewHealthHandler(pinger, version, logger),
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         cfg.GetAPIAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	return s, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Stop()
	})

	return g.Wait()
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.health.Health).Methods(http.MethodGet)
	api.HandleFunc("/scans", s.scans.CreateScan).Methods(http.MethodPost)
	api.HandleFunc("/scans", s.scans.ListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/stream", s.scans.StreamScan).Methods(http.MethodGet)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))

	if cors := s.config.API.CORS; cors.Enabled {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedMethods(cors.AllowedMethods),
			handlers.AllowedHeaders(cors.AllowedHeaders),
		))
	}

	s.router.Use(middleware.ContentType())
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
