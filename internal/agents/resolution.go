package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// ResolveResult reports one automated resolution attempt. A failed action is
// data in the result, never an error return; callers decide whether to retry
// or escalate to a human.
type ResolveResult struct {
	IncidentID        string   `json:"incident_id"`
	Success           bool     `json:"success"`
	ActionsExecuted   []string `json:"actions_executed"`
	CascadesPrevented int      `json:"cascades_prevented"`
	Error             string   `json:"error,omitempty"`
}

// BatchResult summarizes a resolve-pending run.
type BatchResult struct {
	Attempted int              `json:"attempted"`
	Resolved  int              `json:"resolved"`
	Failed    int              `json:"failed"`
	Results   []*ResolveResult `json:"results"`
}

// Resolver auto-resolves qualifying incidents using category playbooks.
type Resolver struct {
	store     storage.Storage
	service   *incidents.Service
	playbooks *PlaybookSet
}

// NewResolver creates a resolution agent.
func NewResolver(store storage.Storage, service *incidents.Service, playbooks *PlaybookSet) *Resolver {
	return &Resolver{store: store, service: service, playbooks: playbooks}
}

// Reporter returns the resolution agent's identity for chain entries.
func (r *Resolver) Reporter() models.Reporter {
	return models.Reporter{
		Type: models.ReporterAgent,
		ID:   AgentResolver,
		Name: "Auto-Resolution Agent",
	}
}

// ResolveIncident attempts the playbook for the incident's category, marks
// downstream cascade links prevented, and resolves the incident through the
// incident service so the change is chain-logged like any user action.
func (r *Resolver) ResolveIncident(ctx context.Context, inc *models.Incident) *ResolveResult {
	result := &ResolveResult{IncidentID: inc.ID}

	if inc.Status.Terminal() {
		result.Error = "incident already resolved"
		return result
	}

	category := CategoryFor(inc)
	playbook := r.playbooks.ForCategory(category)
	if playbook == nil {
		result.Error = fmt.Sprintf("no playbook for category %q", category)
		return result
	}

	for _, action := range playbook.Actions {
		result.ActionsExecuted = append(result.ActionsExecuted, action.Name)
	}

	// Mark outgoing cascade edges prevented.
	links, err := r.store.Causality().ListByIncident(ctx, inc.ID)
	if err == nil {
		for _, link := range links {
			if link.SourceIncidentID != inc.ID || link.Prevented {
				continue
			}
			if err := r.store.Causality().MarkPrevented(ctx, link.ID, AgentResolver); err == nil {
				result.CascadesPrevented++
			}
		}
	}

	status := models.StatusResolved
	note := fmt.Sprintf("auto-resolved via %s playbook (%d actions)", category, len(result.ActionsExecuted))
	if _, err := r.service.Update(ctx, inc.ID, incidents.UpdateInput{
		Status:   &status,
		Reporter: r.Reporter(),
		Note:     note,
	}); err != nil {
		result.Error = fmt.Sprintf("resolve update: %v", err)
		return result
	}

	result.Success = true
	return result
}

// ResolvePending applies ResolveIncident to up to limit open or investigating
// incidents. Settle-all: each incident is attempted independently and
// failures are collected alongside successes.
func (r *Resolver) ResolvePending(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	pending, err := r.store.Incidents().List(ctx, &storage.IncidentFilter{
		Statuses: []models.Status{models.StatusOpen, models.StatusInvestigating},
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending incidents: %w", err)
	}

	batch := &BatchResult{}
	for _, inc := range pending {
		batch.Attempted++
		result := r.ResolveIncident(ctx, inc)
		batch.Results = append(batch.Results, result)
		if result.Success {
			batch.Resolved++
		} else {
			batch.Failed++
		}
	}
	return batch, nil
}

// activity records a live feed entry, best effort.
func recordActivity(ctx context.Context, store storage.Storage, reporter models.Reporter, action, incidentID, details string, publish func(*models.AgentActivity)) {
	act := &models.AgentActivity{
		ID:         newID(),
		AgentID:    reporter.ID,
		AgentName:  reporter.Name,
		Action:     action,
		IncidentID: incidentID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Agents().CreateActivity(ctx, act); err != nil {
		return
	}
	if publish != nil {
		publish(act)
	}
}
