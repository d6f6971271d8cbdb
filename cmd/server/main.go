package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/incidentchain/internal/agents"
	"github.com/good-yellow-bee/incidentchain/internal/api"
	"github.com/good-yellow-bee/incidentchain/internal/api/health"
	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/metrics"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
	"github.com/good-yellow-bee/incidentchain/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "incidentchain-server",
	Short: "IncidentChain Server - Tamper-evident incident tracking",
	Long: `IncidentChain Server tracks security incidents, records every state
change on a hash-linked audit chain, and streams updates to dashboards.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("incidentchain-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	// Get JWT secret from environment
	jwtSecret := os.Getenv("INCIDENTCHAIN_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("INCIDENTCHAIN_JWT_SECRET environment variable is required")
	}

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize storage
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	log.Printf("database initialized at %s", cfg.Database.Path)

	// Optional ClickHouse chain archive
	var archive storage.ChainArchive
	var chArchive *storage.ClickHouseArchive
	if cfg.ClickHouse.Enabled {
		chArchive = storage.NewClickHouseArchive(&storage.ClickHouseConfig{
			Addresses: cfg.ClickHouse.Addresses,
			Database:  cfg.ClickHouse.Database,
			Username:  cfg.ClickHouse.Username,
			Password:  cfg.ClickHouse.Password,
		})
		if err := chArchive.Open(); err != nil {
			return fmt.Errorf("open clickhouse archive: %w", err)
		}
		defer chArchive.Close()
		archive = chArchive
		log.Printf("chain archive enabled at %v", cfg.ClickHouse.Addresses)
	}

	engine := chain.NewEngine(store.Chain(), archive)

	broadcaster := broadcast.New(cfg.API.BroadcastBuffer)
	defer broadcaster.Close()

	service := incidents.NewService(store, engine, broadcaster)

	// Agent subsystem
	playbooks := agents.NewPlaybookSet()
	if cfg.Agents.PlaybookDir != "" {
		if err := playbooks.LoadDir(cfg.Agents.PlaybookDir); err != nil {
			return fmt.Errorf("load playbooks: %w", err)
		}
		log.Printf("loaded playbooks for categories %v", playbooks.Categories())
	}
	resolver := agents.NewResolver(store, service, playbooks)
	runner := agents.NewRunner(store, engine, service, resolver, broadcaster)

	// Build API server
	serverCfg := &api.Config{
		Address:            cfg.Server.Address,
		JWTSecret:          []byte(jwtSecret),
		APIKeyHash:         cfg.Auth.APIKeyHash,
		HTTPTLSEnabled:     cfg.Server.TLS.Enabled,
		HTTPTLSCertFile:    cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:     cfg.Server.TLS.KeyFile,
		AccessTokenTTL:     duration(cfg.Auth.AccessTokenTTL, 15*time.Minute),
		RateLimitPerIP:     cfg.API.RateLimitPerIP,
		RateLimitPerClient: cfg.API.RateLimitPerClient,
		QueryTimeout:       duration(cfg.API.QueryTimeout, 10*time.Second),
		StreamMaxDuration:  duration(cfg.API.StreamMaxDuration, 30*time.Minute),
		StreamPollInterval: duration(cfg.API.StreamPollInterval, 2*time.Second),
		Verbose:            cfg.Verbose,
	}

	srv, err := api.New(serverCfg, store, engine, service, runner, broadcaster)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if chArchive != nil {
		srv.RegisterHealthChecker(health.NewClickHouseChecker(chArchive))
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Server.MetricsAddress != "" {
		metricsSrv := metrics.NewServer(cfg.Server.MetricsAddress)
		g.Go(func() error {
			return metricsSrv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Agents.WatchPlaybooks && cfg.Agents.PlaybookDir != "" {
		g.Go(func() error {
			return playbooks.Watch(cfg.Agents.PlaybookDir, ctx.Done())
		})
	}

	if cfg.Agents.Continuous {
		interval := duration(cfg.Agents.Interval, 5*time.Minute)
		g.Go(func() error {
			runner.RunContinuous(ctx, interval, cfg.Agents.BatchLimit)
			return nil
		})
	}

	log.Printf("starting incidentchain-server %s", config.Version)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}
