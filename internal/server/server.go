package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatekeepdb/gatekeep/internal/connector"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/handler"
	"github.com/gatekeepdb/gatekeep/internal/permission"
	"github.com/gatekeepdb/gatekeep/internal/server/middleware"
	"github.com/gatekeepdb/gatekeep/internal/service"
	"github.com/gatekeepdb/gatekeep/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	MaxBodySize     int64 // bytes
	RateLimit       int   // requests per minute, per IP and per user; 0 disables
	SampleInterval  time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		MaxBodySize:     10 * 1024 * 1024,
		RateLimit:       600,
		SampleInterval:  time.Minute,
	}
}

// Deps are the collaborators the server routes to. Metrics and Logger may
// be nil.
type Deps struct {
	Registry *connector.Registry
	Executor *database.Executor
	Auth     *service.AuthService
	RBAC     *service.RBACService
	Cache    *permission.Cache
	Metrics  *telemetry.Metrics
	Version  string
	Logger   *slog.Logger
}

// Server is the top-level HTTP server. It owns the chi router, the
// connector registry and the row-count sampler.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	sampler    *telemetry.Sampler
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	if deps.Metrics != nil && cfg.SampleInterval > 0 {
		exec := deps.Executor
		var tables []string
		for _, t := range exec.Tables() {
			tables = append(tables, t.Name)
		}
		s.sampler = telemetry.NewSampler(deps.Metrics, func(ctx context.Context, table string) (int64, error) {
			return exec.Count(ctx, table, nil, nil)
		}, tables, cfg.SampleInterval, logger)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	d := s.deps

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   s.cfg.CORSMethods,
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument)
	}
	if s.cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimit))
	}
	if s.cfg.MaxBodySize > 0 {
		r.Use(middleware.MaxBody(s.cfg.MaxBodySize))
	}

	resources := handler.SystemResources(d.Auth, d.RBAC)
	var pinger handler.Pinger
	if d.Registry != nil {
		pinger = d.Registry
	}
	sys := handler.NewSystemHandler(d.Auth, d.RBAC, pinger, d.Version, s.logger)
	crud := handler.NewResourceHandler(d.Executor, d.Auth, d.Cache, d.Metrics, s.logger)

	// --- Probes and documents (no auth required) ---
	sys.MountPublic(r)
	r.Get("/openapi.json", handler.NewOpenAPIHandler(resources, d.Version).ServeSpec)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	// --- API routes ---
	r.Route("/api", func(r chi.Router) {
		sys.MountLogin(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Auth))
			if s.cfg.RateLimit > 0 {
				r.Use(middleware.RateLimitByUser(s.cfg.RateLimit))
			}
			sys.MountProtected(r)
			for _, res := range resources {
				crud.Mount(r, res)
			}
		})
	})

	s.router = r
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing all database connections.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.sampler.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.sampler.Shutdown()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.sampler.Shutdown()
	if d := s.deps.Registry; d != nil {
		d.CloseAll()
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
