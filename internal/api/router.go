package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agentsapi "github.com/good-yellow-bee/incidentchain/internal/api/agents"
	"github.com/good-yellow-bee/incidentchain/internal/api/auth"
	incidentsapi "github.com/good-yellow-bee/incidentchain/internal/api/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Create JWT service
	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.AccessTokenTTL)

	// Create rate limiters
	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)
	apiLimiter := middleware.NewRateLimiter(s.config.RateLimitPerClient)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	// Unrouted requests still get the error envelope.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	incidentHandler := incidentsapi.NewHandler(s.storage, s.incidents, s.engine, s.broadcaster, incidentsapi.Config{
		QueryTimeout:       s.config.QueryTimeout,
		StreamMaxDuration:  s.config.StreamMaxDuration,
		StreamPollInterval: s.config.StreamPollInterval,
	})
	agentHandler := agentsapi.NewHandler(s.storage, s.runner, s.broadcaster, s.config.QueryTimeout)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public, IP rate limited)
		r.Route("/auth", func(r chi.Router) {
			authHandler := auth.NewHandler(jwtService, s.config.APIKeyHash)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(ipLimiter))
				r.Post("/token", authHandler.Token)
			})
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(apiLimiter))

			// Reads and the stream are open; the stream does its own
			// long-lived connection management.
			r.Get("/", incidentHandler.List)
			r.Get("/chain", incidentHandler.Chain)
			r.Get("/chain/{id}", incidentHandler.ChainBlock)
			r.Get("/stream", incidentHandler.Stream)

			// Mutations require a token.
			r.Group(func(r chi.Router) {
				r.Use(middleware.JWTAuth(jwtService))
				r.Post("/", incidentHandler.Create)
				r.Patch("/", incidentHandler.Update)
				r.Post("/test", incidentHandler.GenerateTest)
			})
		})

		r.Route("/security/agents", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(apiLimiter))

			r.Get("/", agentHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.JWTAuth(jwtService))
				r.Post("/", agentHandler.Post)
			})
		})
	})

	// Health and metrics (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
