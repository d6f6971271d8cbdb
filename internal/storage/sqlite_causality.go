package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

type sqliteCausalityRepo struct {
	db *sql.DB
}

func (r *sqliteCausalityRepo) CreateLink(ctx context.Context, link *models.CausalityLink) error {
	query := `
		INSERT INTO causality_links (id, source_incident_id, target_incident_id,
			relationship_type, confidence, predicted_by, prevented, prevented_by,
			prevented_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.SourceIncidentID, link.TargetIncidentID,
		link.Relationship, link.Confidence, nullString(link.PredictedBy),
		boolToInt(link.Prevented), nullString(link.PreventedBy),
		nullTime(link.PreventedAt), link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert causality link: %w", err)
	}
	return nil
}

func (r *sqliteCausalityRepo) ListByIncident(ctx context.Context, incidentID string) ([]*models.CausalityLink, error) {
	query := linkSelect + ` WHERE source_incident_id = ? OR target_incident_id = ? ORDER BY created_at DESC`
	return r.queryLinks(ctx, query, incidentID, incidentID)
}

func (r *sqliteCausalityRepo) ListAll(ctx context.Context, limit int) ([]*models.CausalityLink, error) {
	if limit <= 0 {
		limit = 100
	}
	query := linkSelect + ` ORDER BY created_at DESC LIMIT ?`
	return r.queryLinks(ctx, query, limit)
}

func (r *sqliteCausalityRepo) MarkPrevented(ctx context.Context, id, preventedBy string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE causality_links SET prevented = 1, prevented_by = ?, prevented_at = ? WHERE id = ?`,
		preventedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark prevented: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// WouldCycle walks the graph breadth-first from target looking for source.
// An edge source -> target closes a cycle exactly when source is already
// reachable from target along existing edges.
func (r *sqliteCausalityRepo) WouldCycle(ctx context.Context, sourceID, targetID string) (bool, error) {
	if sourceID == targetID {
		return true, nil
	}

	visited := map[string]bool{targetID: true}
	frontier := []string{targetID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		rows, err := r.db.QueryContext(ctx,
			"SELECT target_incident_id FROM causality_links WHERE source_incident_id = ?", current)
		if err != nil {
			return false, fmt.Errorf("query edges: %w", err)
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return false, fmt.Errorf("scan edge: %w", err)
			}
			if next == sourceID {
				rows.Close()
				return true, nil
			}
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()
	}
	return false, nil
}

const linkSelect = `
	SELECT id, source_incident_id, target_incident_id, relationship_type,
		confidence, predicted_by, prevented, prevented_by, prevented_at, created_at
	FROM causality_links`

func (r *sqliteCausalityRepo) queryLinks(ctx context.Context, query string, args ...any) ([]*models.CausalityLink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query causality links: %w", err)
	}
	defer rows.Close()

	var links []*models.CausalityLink
	for rows.Next() {
		var link models.CausalityLink
		var predictedBy, preventedBy sql.NullString
		var preventedAt sql.NullTime
		var prevented int
		if err := rows.Scan(
			&link.ID, &link.SourceIncidentID, &link.TargetIncidentID,
			&link.Relationship, &link.Confidence, &predictedBy,
			&prevented, &preventedBy, &preventedAt, &link.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan causality link: %w", err)
		}
		link.PredictedBy = predictedBy.String
		link.Prevented = prevented != 0
		link.PreventedBy = preventedBy.String
		if preventedAt.Valid {
			t := preventedAt.Time
			link.PreventedAt = &t
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}
