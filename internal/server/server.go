// Package server exposes the memory operations over HTTP for the chat and
// session-completion layers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harborlight/companion/internal/cards"
	appconfig "github.com/harborlight/companion/internal/config"
	"github.com/harborlight/companion/internal/persistence"
	"github.com/harborlight/companion/pkg/health"
	"github.com/harborlight/companion/pkg/httpmiddleware"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
)

// SessionReader loads session transcripts for the analysis endpoints.
type SessionReader interface {
	SessionByID(ctx context.Context, ownerID, sessionID int64) (*persistence.Session, error)
	SessionMessages(ctx context.Context, ownerID, sessionID int64) ([]cards.Message, error)
}

// Server wires the facade behind a chi router and manages its lifecycle.
type Server struct {
	cfg      *appconfig.AppConfig
	service  MemoryService
	sessions SessionReader
	checker  *health.HealthChecker
	metrics  *metrics.Metrics
	log      logger.Logger
}

// New creates a Server.
func New(
	cfg *appconfig.AppConfig,
	service MemoryService,
	sessions SessionReader,
	checker *health.HealthChecker,
	m *metrics.Metrics,
	log logger.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		service:  service,
		sessions: sessions,
		checker:  checker,
		metrics:  m,
		log:      log,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()

	mwConfig := httpmiddleware.DefaultConfig()
	mwConfig.Logger = s.log
	mwConfig.EnableLogging = true
	mwConfig.Timeout = s.cfg.Server.RequestTimeout
	httpmiddleware.ApplyToRouter(router, mwConfig)

	if s.metrics != nil {
		router.Use(s.metrics.HTTPMiddleware())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/mentions/detect", s.handleDetectMentions)
		r.Get("/context", s.handleContext)
		r.Post("/sessions/{id}/analyze", s.handleAnalyzeSession)
		r.Post("/sessions/{id}/friendship", s.handleFriendship)
	})

	if s.checker != nil {
		router.Get("/health/live", s.checker.LivenessHandler())
		router.Get("/health/ready", s.checker.ReadinessHandler())
	}

	return router
}

// Run starts the HTTP server and blocks until a shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.log.Info("Received shutdown signal", logger.StringField("signal", sig.String()))
		cancel()
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", logger.IntField("port", s.cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.metrics != nil && s.cfg.Monitoring.MetricsEnabled {
		go s.metrics.Listen(s.cfg.Monitoring.MetricsPort)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
