package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

type sqliteAgentRepo struct {
	db *sql.DB
}

func (r *sqliteAgentRepo) CreateRun(ctx context.Context, run *models.AgentRun) error {
	query := `
		INSERT INTO agent_runs (id, agent_id, agent_name, incidents_analyzed,
			incidents_resolved, predictions_generated, cascades_prevented,
			run_type, status, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.AgentID, run.AgentName, run.IncidentsAnalyzed,
		run.IncidentsResolved, run.PredictionsGenerated, run.CascadesPrevented,
		run.RunType, run.Status, run.StartedAt, run.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

func (r *sqliteAgentRepo) ListRuns(ctx context.Context, agentID string, limit int) ([]*models.AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, agent_id, agent_name, incidents_analyzed, incidents_resolved,
			predictions_generated, cascades_prevented, run_type, status, started_at, duration_ns
		FROM agent_runs
	`
	var args []any
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.AgentRun
	for rows.Next() {
		var run models.AgentRun
		var durationNS int64
		if err := rows.Scan(
			&run.ID, &run.AgentID, &run.AgentName, &run.IncidentsAnalyzed,
			&run.IncidentsResolved, &run.PredictionsGenerated, &run.CascadesPrevented,
			&run.RunType, &run.Status, &run.StartedAt, &durationNS,
		); err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		run.Duration = time.Duration(durationNS)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *sqliteAgentRepo) CreateActivity(ctx context.Context, act *models.AgentActivity) error {
	query := `
		INSERT INTO agent_activity (id, agent_id, agent_name, action, incident_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		act.ID, act.AgentID, act.AgentName, act.Action,
		nullString(act.IncidentID), nullString(act.Details), act.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent activity: %w", err)
	}
	return nil
}

func (r *sqliteAgentRepo) ListActivity(ctx context.Context, agentIDs []string, limit int) ([]*models.AgentActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := activityWhere(agentIDs)
	query := `
		SELECT id, agent_id, agent_name, action, incident_id, details, created_at
		FROM agent_activity` + where + ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return r.queryActivity(ctx, query, args...)
}

func (r *sqliteAgentRepo) ListActivitySince(ctx context.Context, since time.Time, agentIDs []string) ([]*models.AgentActivity, error) {
	where, args := activityWhere(agentIDs)
	if where == "" {
		where = " WHERE created_at > ?"
	} else {
		where += " AND created_at > ?"
	}
	args = append(args, since)
	query := `
		SELECT id, agent_id, agent_name, action, incident_id, details, created_at
		FROM agent_activity` + where + ` ORDER BY created_at ASC`
	return r.queryActivity(ctx, query, args...)
}

func activityWhere(agentIDs []string) (string, []any) {
	if len(agentIDs) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(agentIDs))
	args := make([]any, len(agentIDs))
	for i, id := range agentIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	return " WHERE agent_id IN (" + strings.Join(placeholders, ",") + ")", args
}

func (r *sqliteAgentRepo) queryActivity(ctx context.Context, query string, args ...any) ([]*models.AgentActivity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agent activity: %w", err)
	}
	defer rows.Close()

	var acts []*models.AgentActivity
	for rows.Next() {
		var act models.AgentActivity
		var incidentID, details sql.NullString
		if err := rows.Scan(
			&act.ID, &act.AgentID, &act.AgentName, &act.Action,
			&incidentID, &details, &act.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent activity: %w", err)
		}
		act.IncidentID = incidentID.String
		act.Details = details.String
		acts = append(acts, &act)
	}
	return acts, rows.Err()
}
