package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings for the chain archive.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool
}

// ClickHouseArchive implements ChainArchive for ClickHouse. The archive is an
// analytical mirror of the chain; the SQLite store stays the source of truth.
type ClickHouseArchive struct {
	config *ClickHouseConfig
	db     *sql.DB
}

// NewClickHouseArchive creates a new ClickHouse chain archive.
func NewClickHouseArchive(config *ClickHouseConfig) *ClickHouseArchive {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	return &ClickHouseArchive{config: config}
}

// Open initializes the ClickHouse connection and ensures the archive table.
func (s *ClickHouseArchive) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *ClickHouseArchive) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection health.
func (s *ClickHouseArchive) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseArchive) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := `
		CREATE TABLE IF NOT EXISTS chain_entries (
			id UUID,
			sequence Int64,
			event_hash FixedString(64),
			previous_hash FixedString(64),
			merkle_root FixedString(64),
			event_type LowCardinality(String),
			event_data String,
			incident_id String,
			reporter_type LowCardinality(String),
			reporter_id String,
			reporter_name String,
			created_at DateTime64(3, 'UTC'),
			_date Date DEFAULT toDate(created_at)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (sequence)
		SETTINGS index_granularity = 8192
	`

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create chain_entries table: %w", err)
	}
	return nil
}

// InsertEntries inserts chain entries using a batch insert.
func (s *ClickHouseArchive) InsertEntries(ctx context.Context, entries []*models.ChainEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chain_entries (
			id, sequence, event_hash, previous_hash, merkle_root,
			event_type, event_data, incident_id,
			reporter_type, reporter_id, reporter_name, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		dataJSON, _ := json.Marshal(entry.EventData)

		if _, err := stmt.ExecContext(ctx,
			entry.ID,
			entry.Sequence,
			entry.EventHash,
			entry.PreviousHash,
			entry.MerkleRoot,
			entry.EventType,
			string(dataJSON),
			entry.IncidentID,
			string(entry.ReporterType),
			entry.ReporterID,
			entry.ReporterName,
			entry.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert entry %d: %w", entry.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
