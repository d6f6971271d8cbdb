// Package main provides the IncidentChain server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Auth       AuthConfig       `yaml:"auth"`
	API        APIConfig        `yaml:"api"`
	Agents     AgentsConfig     `yaml:"agents"`
	Verbose    bool             `yaml:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Address        string    `yaml:"address"`         // HTTP listen address (default: :8080)
	MetricsAddress string    `yaml:"metrics_address"` // dedicated Prometheus listener, empty disables
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the HTTP listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database file (default: data/incidentchain.db)
}

// ClickHouseConfig contains the optional chain archive settings.
type ClickHouseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addresses []string `yaml:"addresses"`
	Database  string   `yaml:"database"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
}

// AuthConfig contains token issuance settings. The JWT signing secret is
// taken from the INCIDENTCHAIN_JWT_SECRET environment variable, never from
// the config file.
type AuthConfig struct {
	APIKeyHash     string `yaml:"api_key_hash"`     // bcrypt hash of the shared API key
	AccessTokenTTL string `yaml:"access_token_ttl"` // duration string (default: 15m)
}

// APIConfig contains request handling limits.
type APIConfig struct {
	RateLimitPerIP     int    `yaml:"rate_limit_per_ip"`     // token requests per minute per IP
	RateLimitPerClient int    `yaml:"rate_limit_per_client"` // API requests per minute per client
	QueryTimeout       string `yaml:"query_timeout"`         // duration string (default: 10s)
	StreamMaxDuration  string `yaml:"stream_max_duration"`   // duration string (default: 30m)
	StreamPollInterval string `yaml:"stream_poll_interval"`  // duration string (default: 2s)
	BroadcastBuffer    int    `yaml:"broadcast_buffer"`      // per-subscriber event buffer (default: 64)
}

// AgentsConfig contains agent subsystem settings.
type AgentsConfig struct {
	PlaybookDir    string `yaml:"playbook_dir"`    // directory of resolution playbooks (*.yaml)
	WatchPlaybooks bool   `yaml:"watch_playbooks"` // reload playbooks on change
	Continuous     bool   `yaml:"continuous"`      // run the resolver on an interval
	Interval       string `yaml:"interval"`        // continuous run interval (default: 5m)
	BatchLimit     int    `yaml:"batch_limit"`     // incidents per continuous batch (default: 10)
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/incidentchain.db"
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "incidentchain"
	}
	if c.Auth.AccessTokenTTL == "" {
		c.Auth.AccessTokenTTL = "15m"
	}
	if c.API.RateLimitPerIP == 0 {
		c.API.RateLimitPerIP = 10
	}
	if c.API.RateLimitPerClient == 0 {
		c.API.RateLimitPerClient = 120
	}
	if c.API.QueryTimeout == "" {
		c.API.QueryTimeout = "10s"
	}
	if c.API.StreamMaxDuration == "" {
		c.API.StreamMaxDuration = "30m"
	}
	if c.API.StreamPollInterval == "" {
		c.API.StreamPollInterval = "2s"
	}
	if c.API.BroadcastBuffer == 0 {
		c.API.BroadcastBuffer = 64
	}
	if c.Agents.Interval == "" {
		c.Agents.Interval = "5m"
	}
	if c.Agents.BatchLimit == 0 {
		c.Agents.BatchLimit = 10
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("clickhouse.addresses is required when clickhouse is enabled")
	}
	for _, d := range []struct {
		name, value string
	}{
		{"auth.access_token_ttl", c.Auth.AccessTokenTTL},
		{"api.query_timeout", c.API.QueryTimeout},
		{"api.stream_max_duration", c.API.StreamMaxDuration},
		{"api.stream_poll_interval", c.API.StreamPollInterval},
		{"agents.interval", c.Agents.Interval},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.name, d.value)
		}
	}
	return nil
}

// duration returns a parsed duration field. Validate has already checked the
// syntax, so a parse failure here falls back to def.
func duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
