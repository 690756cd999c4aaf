// Package server provides the operator HTTP API for the arena.
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

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/market_regime"
	"github.com/aristath/arena/internal/modules/market_hours"
	markethourshandlers "github.com/aristath/arena/internal/modules/market_hours/handlers"
	portfoliohandlers "github.com/aristath/arena/internal/modules/portfolio/handlers"
	snapshotshandlers "github.com/aristath/arena/internal/modules/snapshots/handlers"
	"github.com/aristath/arena/internal/modules/trading"
	tradinghandlers "github.com/aristath/arena/internal/modules/trading/handlers"
	"github.com/aristath/arena/internal/orchestrator"
	"github.com/aristath/arena/internal/services"
)

// CycleController runs and reports trading cycles
type CycleController interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleReport, error)
	IsRunning() bool
	LastReport() *orchestrator.CycleReport
	WithAgentLock(agentID string, fn func() error) error
}

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Databases    []MonitoredDB
	DataDir      string
	Port         int
	DevMode      bool
	CycleTimeout time.Duration

	Cycles      CycleController
	Brokers     *broker.Registry
	Events      *events.Manager
	Health      *services.APIHealthTracker
	Safety      *trading.SafetyService
	MarketHours *market_hours.MarketHoursService
	Regime      *market_regime.ContextBuilder

	Agents    portfoliohandlers.AgentStore
	Positions portfoliohandlers.PositionLister
	Trades    tradinghandlers.TradeLister
	Snapshots snapshotshandlers.SnapshotReader
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	stream *EventsStreamHandler
	system *SystemHandlers
	cycles *CycleHandlers
	log    zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.system = NewSystemHandlers(cfg.Databases, cfg.DataDir, cfg.Cycles, cfg.Safety, cfg.Health, cfg.Brokers, cfg.Log)
	s.cycles = NewCycleHandlers(cfg.Cycles, cfg.Brokers, cfg.CycleTimeout, cfg.Log)
	if cfg.Events != nil {
		s.stream = NewEventsStreamHandler(cfg.Events, cfg.Log)
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests
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
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json"))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.system.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		if s.stream != nil {
			r.Get("/events/stream", s.stream.ServeHTTP)
			r.Get("/events/recent", s.stream.HandleRecent)
		}

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.system.HandleSystemStatus)
			r.Get("/databases", s.system.HandleDatabaseStats)
		})

		// Operator actions share a timeout; the stream above must not
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			s.cycles.RegisterRoutes(r)

			if s.cfg.MarketHours != nil {
				markethourshandlers.NewHandler(s.cfg.MarketHours, s.log).RegisterRoutes(r)
			}
			if s.cfg.Agents != nil && s.cfg.Positions != nil {
				portfoliohandlers.NewHandler(s.cfg.Agents, s.cfg.Positions, s.cfg.Cycles, s.log).RegisterRoutes(r)
			}
			if s.cfg.Trades != nil && s.cfg.Agents != nil && s.cfg.Safety != nil {
				th := tradinghandlers.NewTradingHandlers(s.cfg.Trades, s.cfg.Agents, s.cfg.Safety, s.log)
				if s.cfg.Events != nil {
					th.SetEmitter(s.cfg.Events)
				}
				th.RegisterRoutes(r)
			}
			if s.cfg.Snapshots != nil && s.cfg.Regime != nil {
				snapshotshandlers.NewHandler(s.cfg.Snapshots, s.cfg.Regime, s.log).RegisterRoutes(r)
			}
		})
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.stream != nil {
		s.stream.Close()
	}
	return s.server.Shutdown(ctx)
}
