// Package server provides the HTTP admin surface of the daemon: sync
// controls, status, trade history and live event streaming.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"mirrortrader/internal/config"
	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
	"mirrortrader/internal/modules/dedup"
	"mirrortrader/internal/modules/dispatch"
	"mirrortrader/internal/modules/syncer"
	"mirrortrader/internal/reliability"
)

// Config holds server dependencies
type Config struct {
	Log          zerolog.Logger
	Cfg          *config.Config
	Orchestrator *syncer.Orchestrator
	Dispatcher   *dispatch.Dispatcher
	Dedup        *dedup.Deduplicator
	Gateway      domain.Gateway
	TradeLog     *syncer.TradeLogRepository
	Bus          *events.Bus
	CloudBackup  *reliability.CloudBackupService // nil when not configured
}

// Server is the HTTP admin server
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	cfg          *config.Config
	orchestrator *syncer.Orchestrator
	dispatcher   *dispatch.Dispatcher
	dedup        *dedup.Deduplicator
	gateway      domain.Gateway
	tradeLog     *syncer.TradeLogRepository
	cloudBackup  *reliability.CloudBackupService
	stream       *EventsStreamHandler
	ws           *EventsSocketHandler
	portfolios   map[int64]string
	startedAt    time.Time
}

// New creates the admin server
func New(cfg Config) *Server {
	portfolios := make(map[int64]string, len(cfg.Cfg.Track))
	for _, pair := range cfg.Cfg.Track {
		portfolios[pair.AccountID] = pair.Portfolio
	}

	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		cfg:          cfg.Cfg,
		orchestrator: cfg.Orchestrator,
		dispatcher:   cfg.Dispatcher,
		dedup:        cfg.Dedup,
		gateway:      cfg.Gateway,
		tradeLog:     cfg.TradeLog,
		cloudBackup:  cfg.CloudBackup,
		stream:       NewEventsStreamHandler(cfg.Bus, cfg.Log),
		ws:           NewEventsSocketHandler(cfg.Bus, cfg.Log),
		portfolios:   portfolios,
		startedAt:    time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/sync", s.handleRunSync)
			r.Get("/sync/check", s.handleCheckSync)
			r.Get("/sync/report", s.handleLastReport)
			r.Post("/track/start", s.handleStartTrack)
			r.Post("/track/stop", s.handleStopTrack)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/tradelog", s.handleTradeLog)
		})

		r.Get("/events/stream", s.stream.ServeHTTP)
		r.Get("/events/ws", s.ws.ServeHTTP)

		if s.cloudBackup != nil {
			r.Post("/backup", s.handleBackup)
			r.Get("/backup", s.handleListBackups)
		}
	})
}

// Router returns the underlying router, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Streaming endpoints manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}
