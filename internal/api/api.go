// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/agents"
	"github.com/good-yellow-bee/incidentchain/internal/api/health"
	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address            string
	JWTSecret          []byte
	APIKeyHash         string // bcrypt hash of the shared API key
	HTTPTLSEnabled     bool
	HTTPTLSCertFile    string
	HTTPTLSKeyFile     string
	AccessTokenTTL     time.Duration
	RateLimitPerIP     int // token requests per minute per IP
	RateLimitPerClient int // API requests per minute per client
	QueryTimeout       time.Duration // Timeout for storage-backed API calls
	StreamMaxDuration  time.Duration // Max lifetime for SSE connections
	StreamPollInterval time.Duration // Default poll interval for SSE fallback
	Verbose            bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 10
	}
	if c.RateLimitPerClient == 0 {
		c.RateLimitPerClient = 120
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.StreamMaxDuration == 0 {
		c.StreamMaxDuration = 30 * time.Minute
	}
	if c.StreamPollInterval == 0 {
		c.StreamPollInterval = 2 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	engine        *chain.Engine
	incidents     *incidents.Service
	runner        *agents.Runner
	broadcaster   *broadcast.Broadcaster
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, store storage.Storage, engine *chain.Engine, svc *incidents.Service, runner *agents.Runner, bc *broadcast.Broadcaster) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("chain engine is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("incident service is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		engine:        engine,
		incidents:     svc,
		runner:        runner,
		broadcaster:   bc,
		healthHandler: health.NewHandler(),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout is intentionally 0 (disabled) because the server
		// supports SSE streams that can last up to 30 minutes. A global
		// WriteTimeout would prematurely kill those long-lived connections.
		// Individual non-streaming handlers use context deadlines to bound
		// response time.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
