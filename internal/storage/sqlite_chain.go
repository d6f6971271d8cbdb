package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

const chainColumns = `id, sequence, event_hash, previous_hash, merkle_root,
	event_type, event_data_json, incident_id, reporter_type, reporter_id,
	reporter_name, created_at`

type sqliteChainRepo struct {
	db *sql.DB
}

func (r *sqliteChainRepo) Append(ctx context.Context, entry *models.ChainEntry) error {
	dataJSON, err := json.Marshal(entry.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	query := `
		INSERT INTO chain_entries (id, sequence, event_hash, previous_hash, merkle_root,
			event_type, event_data_json, incident_id, reporter_type, reporter_id,
			reporter_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Sequence, entry.EventHash, entry.PreviousHash, entry.MerkleRoot,
		entry.EventType, string(dataJSON), entry.IncidentID,
		entry.ReporterType, entry.ReporterID, entry.ReporterName, entry.CreatedAt,
	)
	if err != nil {
		// The UNIQUE sequence constraint is the backstop against two appends
		// extending the same tail.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSequence
		}
		return fmt.Errorf("insert chain entry: %w", err)
	}
	return nil
}

func (r *sqliteChainRepo) GetByID(ctx context.Context, id string) (*models.ChainEntry, error) {
	query := `SELECT ` + chainColumns + ` FROM chain_entries WHERE id = ?`
	entry, err := scanChainEntry(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return entry, err
}

func (r *sqliteChainRepo) GetBySequence(ctx context.Context, seq int64) (*models.ChainEntry, error) {
	query := `SELECT ` + chainColumns + ` FROM chain_entries WHERE sequence = ?`
	entry, err := scanChainEntry(r.db.QueryRowContext(ctx, query, seq))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return entry, err
}

func (r *sqliteChainRepo) Latest(ctx context.Context) (*ChainTail, error) {
	var tail ChainTail
	err := r.db.QueryRowContext(ctx,
		"SELECT sequence, event_hash FROM chain_entries ORDER BY sequence DESC LIMIT 1",
	).Scan(&tail.Sequence, &tail.EventHash)
	if err == sql.ErrNoRows {
		return &ChainTail{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chain tail: %w", err)
	}
	return &tail, nil
}

func (r *sqliteChainRepo) List(ctx context.Context, filter *ChainFilter) ([]*models.ChainEntry, error) {
	var clauses []string
	var args []any
	if filter != nil {
		if filter.IncidentID != "" {
			clauses = append(clauses, "incident_id = ?")
			args = append(args, filter.IncidentID)
		}
		if filter.SinceSeq > 0 {
			clauses = append(clauses, "sequence > ?")
			args = append(args, filter.SinceSeq)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := 100
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	query := `SELECT ` + chainColumns + ` FROM chain_entries` + where +
		` ORDER BY sequence ASC LIMIT ?`
	args = append(args, limit)
	return r.queryEntries(ctx, query, args...)
}

func (r *sqliteChainRepo) ListRange(ctx context.Context, since, until time.Time) ([]*models.ChainEntry, error) {
	query := `SELECT ` + chainColumns + ` FROM chain_entries
		WHERE created_at >= ? AND created_at <= ? ORDER BY sequence ASC`
	return r.queryEntries(ctx, query, since, until)
}

func (r *sqliteChainRepo) RecentHashes(ctx context.Context, n int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_hash FROM (
			SELECT sequence, event_hash FROM chain_entries ORDER BY sequence DESC LIMIT ?
		) ORDER BY sequence ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (r *sqliteChainRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chain_entries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chain entries: %w", err)
	}
	return count, nil
}

func (r *sqliteChainRepo) CountByEventType(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "event_type")
}

func (r *sqliteChainRepo) CountByReporterType(ctx context.Context) (map[models.ReporterType]int64, error) {
	raw, err := r.countBy(ctx, "reporter_type")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.ReporterType]int64, len(raw))
	for k, v := range raw {
		counts[models.ReporterType(k)] = v
	}
	return counts, nil
}

func (r *sqliteChainRepo) countBy(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM chain_entries GROUP BY "+column)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func (r *sqliteChainRepo) queryEntries(ctx context.Context, query string, args ...any) ([]*models.ChainEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chain entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChainEntry
	for rows.Next() {
		entry, err := scanChainEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanChainEntry(row rowScanner) (*models.ChainEntry, error) {
	var entry models.ChainEntry
	var dataJSON string

	err := row.Scan(
		&entry.ID, &entry.Sequence, &entry.EventHash, &entry.PreviousHash,
		&entry.MerkleRoot, &entry.EventType, &dataJSON, &entry.IncidentID,
		&entry.ReporterType, &entry.ReporterID, &entry.ReporterName, &entry.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan chain entry: %w", err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &entry.EventData); err != nil {
		return nil, fmt.Errorf("unmarshal event data: %w", err)
	}
	return &entry, nil
}
