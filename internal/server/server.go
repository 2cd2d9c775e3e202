package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/iotmesh/iotgate/internal/audit"
	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/gateway"
	"github.com/iotmesh/iotgate/internal/handler"
	"github.com/iotmesh/iotgate/internal/openapi"
	"github.com/iotmesh/iotgate/internal/ratelimit"
	"github.com/iotmesh/iotgate/internal/server/middleware"
	"github.com/iotmesh/iotgate/internal/service"
	"github.com/iotmesh/iotgate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// IPRequestLimit caps requests per IP per minute before any credential
	// is examined. Zero disables the guard.
	IPRequestLimit int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		IPRequestLimit:  600,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the store,
// the auth service, the rate-limit engine, and the backend registry.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		authSvc: authSvc,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	engine := ratelimit.New(s.store, s.logger)
	auditLog := audit.New(s.store, s.logger)
	registry := backend.NewDefault(s.store, s.logger)
	gw := gateway.New(s.authSvc, engine, auditLog, s.logger)

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey", "X-Api-Key-Id", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.IPRequestLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.IPRequestLimit, time.Minute))
	}

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", openapi.Handler())

	// --- Gateway auth plane: credential and quota decisions ---
	r.Route("/gw", func(r chi.Router) {
		r.HandleFunc("/validate-key", gw.ValidateKeyHandler())
		r.HandleFunc("/rate-limit", gw.RateLimitHandler())
		r.HandleFunc("/rate-limit/check", gw.RateLimitCheckHandler())
		r.HandleFunc("/auth", gw.AuthHandler())
	})

	// --- Dashboard session ---
	authHandler := handler.NewAuthHandler(s.authSvc, s.logger)
	r.Post("/auth/login", authHandler.Login)

	// --- Authenticated dashboard API ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.authSvc, s.store))

		keyHandler := handler.NewKeyHandler(s.authSvc, s.logger)
		r.Route("/api/keys", func(r chi.Router) {
			r.Post("/", keyHandler.Create)
			r.Get("/", keyHandler.List)
			r.Delete("/{keyId}", keyHandler.Revoke)
			r.Post("/{keyId}/refresh", keyHandler.Refresh)
		})

		mcpHandler := handler.NewMCPHandler(s.store, registry, s.logger)
		r.Route("/api/mcp", func(r chi.Router) {
			r.Use(handler.AccessGate(s.store, s.logger))
			r.Get("/capabilities", mcpHandler.Capabilities)
			r.Get("/tools", mcpHandler.Tools)
			r.Post("/tools/execute", mcpHandler.ExecuteTool)
			r.Get("/resources", mcpHandler.Resources)
			r.Get("/prompts", mcpHandler.Prompts)
			r.Get("/context", mcpHandler.Context)
		})

		resourceHandler := handler.NewResourceHandler(s.store, registry, s.logger)
		r.Get("/api/devices/{id}/readings", resourceHandler.DeviceReadings)
		r.HandleFunc("/api/{resource}", resourceHandler.Forward)
		r.HandleFunc("/api/{resource}/{id}", resourceHandler.Forward)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 when it is not.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
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

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
