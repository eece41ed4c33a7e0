// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"

	"github.com/metal-price-cache/internal/logging"
	"github.com/metal-price-cache/internal/service"
	"github.com/metal-price-cache/internal/types"
)

// PriceServiceInterface defines the price operations the API needs
type PriceServiceInterface interface {
	GetPrices(ctx context.Context, forceRefresh bool) *types.PriceResult
	Status(ctx context.Context) *service.CacheStatus
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	priceService PriceServiceInterface
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Inbound throttling per client IP
	RequestsPerSecond int
	Burst             int

	// Proxies whose X-Forwarded-For header identifies the client
	TrustedProxies []netip.Prefix

	// AdminKey gates the force-refresh and status endpoints; empty disables them
	AdminKey string

	// Production hides quota details from the public price endpoint
	Production bool
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, priceService PriceServiceInterface) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		priceService: priceService,
		config:       config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst, s.config.TrustedProxies)

	// Order matters: the request ID must exist before anything logs
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes. OPTIONS is listed on every route so
// CORS preflight requests reach the middleware chain.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/prices", s.handleGetPrices).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/prices/update", s.handleUpdatePrices).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/prices/update", s.handleUpdateMethodNotAllowed).Methods(http.MethodGet)
	api.HandleFunc("/prices/status", s.handleGetStatus).Methods(http.MethodGet, http.MethodOptions)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "metal-price-cache",
	})
}

// Handler exposes the configured router, for serverless adapters and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
