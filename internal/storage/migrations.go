package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Incidents table
			CREATE TABLE IF NOT EXISTS incidents (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL,
				severity TEXT NOT NULL DEFAULT 'medium',
				status TEXT NOT NULL DEFAULT 'open',
				assigned_to TEXT,
				resolved_at DATETIME,
				tags_json TEXT NOT NULL DEFAULT '[]',
				timeline_json TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Append-only chain entries. sequence is UNIQUE so a lost append
			-- race surfaces as a constraint violation instead of a fork.
			CREATE TABLE IF NOT EXISTS chain_entries (
				id TEXT PRIMARY KEY,
				sequence INTEGER NOT NULL UNIQUE,
				event_hash TEXT NOT NULL,
				previous_hash TEXT NOT NULL,
				merkle_root TEXT NOT NULL,
				event_type TEXT NOT NULL,
				event_data_json TEXT NOT NULL,
				incident_id TEXT NOT NULL,
				reporter_type TEXT NOT NULL,
				reporter_id TEXT NOT NULL,
				reporter_name TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);

			-- Agent run records
			CREATE TABLE IF NOT EXISTS agent_runs (
				id TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL,
				agent_name TEXT NOT NULL,
				incidents_analyzed INTEGER NOT NULL DEFAULT 0,
				incidents_resolved INTEGER NOT NULL DEFAULT 0,
				predictions_generated INTEGER NOT NULL DEFAULT 0,
				cascades_prevented INTEGER NOT NULL DEFAULT 0,
				run_type TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at DATETIME NOT NULL,
				duration_ns INTEGER NOT NULL
			);

			-- Agent activity feed
			CREATE TABLE IF NOT EXISTS agent_activity (
				id TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL,
				agent_name TEXT NOT NULL,
				action TEXT NOT NULL,
				incident_id TEXT,
				details TEXT,
				created_at DATETIME NOT NULL
			);

			-- Causality links between incidents
			CREATE TABLE IF NOT EXISTS causality_links (
				id TEXT PRIMARY KEY,
				source_incident_id TEXT NOT NULL,
				target_incident_id TEXT NOT NULL,
				relationship_type TEXT NOT NULL,
				confidence REAL NOT NULL DEFAULT 0,
				predicted_by TEXT,
				prevented INTEGER NOT NULL DEFAULT 0,
				prevented_by TEXT,
				prevented_at DATETIME,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (source_incident_id) REFERENCES incidents(id),
				FOREIGN KEY (target_incident_id) REFERENCES incidents(id)
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
			CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
			CREATE INDEX IF NOT EXISTS idx_incidents_updated ON incidents(updated_at);
			CREATE INDEX IF NOT EXISTS idx_chain_incident ON chain_entries(incident_id);
			CREATE INDEX IF NOT EXISTS idx_chain_created ON chain_entries(created_at);
			CREATE INDEX IF NOT EXISTS idx_activity_agent ON agent_activity(agent_id);
			CREATE INDEX IF NOT EXISTS idx_activity_created ON agent_activity(created_at);
			CREATE INDEX IF NOT EXISTS idx_causality_source ON causality_links(source_incident_id);
			CREATE INDEX IF NOT EXISTS idx_causality_target ON causality_links(target_incident_id);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
