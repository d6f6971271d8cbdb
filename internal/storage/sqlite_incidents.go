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

const incidentColumns = `id, title, description, severity, status, assigned_to,
	resolved_at, tags_json, timeline_json, created_at, updated_at`

type sqliteIncidentRepo struct {
	db *sql.DB
}

func (r *sqliteIncidentRepo) Create(ctx context.Context, inc *models.Incident) error {
	tagsJSON, err := json.Marshal(inc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	timelineJSON, err := json.Marshal(inc.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		INSERT INTO incidents (id, title, description, severity, status, assigned_to,
			resolved_at, tags_json, timeline_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		inc.ID, inc.Title, inc.Description, inc.Severity, inc.Status,
		nullString(inc.AssignedTo), nullTime(inc.ResolvedAt),
		string(tagsJSON), string(timelineJSON), inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (r *sqliteIncidentRepo) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = ?`
	inc, err := scanIncident(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inc, err
}

func (r *sqliteIncidentRepo) Update(ctx context.Context, inc *models.Incident) error {
	tagsJSON, err := json.Marshal(inc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	timelineJSON, err := json.Marshal(inc.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		UPDATE incidents SET title = ?, description = ?, severity = ?, status = ?,
			assigned_to = ?, resolved_at = ?, tags_json = ?, timeline_json = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		inc.Title, inc.Description, inc.Severity, inc.Status,
		nullString(inc.AssignedTo), nullTime(inc.ResolvedAt),
		string(tagsJSON), string(timelineJSON), inc.UpdatedAt,
		inc.ID,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteIncidentRepo) List(ctx context.Context, filter *IncidentFilter) ([]*models.Incident, error) {
	where, args := incidentWhere(filter)
	limit := 50
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents` + where +
		` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)
	return r.queryIncidents(ctx, query, args...)
}

func (r *sqliteIncidentRepo) ListUpdatedSince(ctx context.Context, since time.Time, filter *IncidentFilter) ([]*models.Incident, error) {
	where, args := incidentWhere(filter)
	if where == "" {
		where = " WHERE updated_at > ?"
	} else {
		where += " AND updated_at > ?"
	}
	args = append(args, since)
	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + ` ORDER BY updated_at ASC`
	return r.queryIncidents(ctx, query, args...)
}

func (r *sqliteIncidentRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return count, nil
}

func (r *sqliteIncidentRepo) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM incidents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.Status(status)] = count
	}
	return counts, rows.Err()
}

// incidentWhere builds the WHERE clause for a filter; all fields are ANDed.
func incidentWhere(filter *IncidentFilter) (string, []any) {
	if filter == nil {
		return "", nil
	}
	var clauses []string
	var args []any
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(filter.Severities) > 0 {
		placeholders := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			placeholders[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "severity IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *sqliteIncidentRepo) queryIncidents(ctx context.Context, query string, args ...any) ([]*models.Incident, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var inc models.Incident
	var assignedTo sql.NullString
	var resolvedAt sql.NullTime
	var tagsJSON, timelineJSON string

	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Description, &inc.Severity, &inc.Status,
		&assignedTo, &resolvedAt, &tagsJSON, &timelineJSON,
		&inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.AssignedTo = assignedTo.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(tagsJSON), &inc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(timelineJSON), &inc.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	return &inc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
