// Package server provides the HTTP server and routing for the portfolio dashboard.
package server

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/degiro-portfolio/internal/config"
	"github.com/aristath/degiro-portfolio/internal/di"
	currencyhandlers "github.com/aristath/degiro-portfolio/internal/modules/currency/handlers"
	historyhandlers "github.com/aristath/degiro-portfolio/internal/modules/history/handlers"
	ledgerhandlers "github.com/aristath/degiro-portfolio/internal/modules/ledger/handlers"
	marketdatahandlers "github.com/aristath/degiro-portfolio/internal/modules/marketdata/handlers"
	portfoliohandlers "github.com/aristath/degiro-portfolio/internal/modules/portfolio/handlers"
	"github.com/aristath/degiro-portfolio/pkg/embedded"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Jobs      JobLister // optional
	Version   string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	version        string
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		version:   cfg.Version,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.Version,
			cfg.Container.Databases(),
			cfg.Jobs,
		),
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // market data updates run inside the request
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	c := s.container

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/", s.handleDashboard)

	ledgerHandler := ledgerhandlers.NewHandler(c.LedgerRepo, c.Importer, c.MarketDataService, s.log)
	historyHandler := historyhandlers.NewHandler(c.HistoryDB, c.LedgerRepo, s.log)
	portfolioHandler := portfoliohandlers.NewHandler(c.PortfolioService, s.log)
	marketDataHandler := marketdatahandlers.NewHandler(c.MarketDataService, s.log)
	currencyHandler := currencyhandlers.NewHandler(c.CurrencyService, s.log)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.systemHandlers.HandlePing)
		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
		r.Get("/system/jobs", s.systemHandlers.HandleJobs)

		ledgerHandler.RegisterRoutes(r)
		historyHandler.RegisterRoutes(r)
		portfolioHandler.RegisterRoutes(r)
		marketDataHandler.RegisterRoutes(r)
		currencyHandler.RegisterRoutes(r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleDashboard serves the dashboard HTML from the embedded filesystem
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(embedded.Files, "static/index.html")
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read embedded index.html")
		http.Error(w, "Dashboard not available", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to write index.html response")
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
