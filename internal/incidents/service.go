// Package incidents implements incident CRUD with chain logging and realtime
// fan-out.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// ErrNotFound mirrors storage.ErrNotFound for callers of this package.
var ErrNotFound = storage.ErrNotFound

// ErrInvalidInput marks validation failures. Callers map it to a 400.
var ErrInvalidInput = errors.New("invalid input")

// ErrCycle is returned when a causality link would close a cycle.
var ErrCycle = errors.New("causality link would create a cycle")

// Service is the incident service: every state-changing operation is mirrored
// into the chain and then fanned out via the broadcaster.
type Service struct {
	store       storage.Storage
	engine      *chain.Engine
	broadcaster *broadcast.Broadcaster
}

// NewService creates an incident service.
func NewService(store storage.Storage, engine *chain.Engine, b *broadcast.Broadcaster) *Service {
	return &Service{store: store, engine: engine, broadcaster: b}
}

// CreateInput holds the fields for a new incident.
type CreateInput struct {
	Title       string
	Description string
	Severity    models.Severity
	Status      models.Status
	AssignedTo  string
	Tags        []string
	Reporter    models.Reporter
}

// Create validates, persists, chain-logs, and broadcasts a new incident.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Incident, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}

	inc := models.NewIncident(input.Title, input.Description)
	inc.ID = uuid.New().String()
	if input.Severity != "" {
		if !input.Severity.Valid() {
			return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, input.Severity)
		}
		inc.Severity = input.Severity
	}
	if input.Status != "" {
		if !input.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
		}
		inc.Status = input.Status
	}
	if inc.Status.Terminal() {
		now := time.Now().UTC()
		inc.ResolvedAt = &now
	}
	inc.AssignedTo = input.AssignedTo
	inc.Tags = input.Tags
	inc.AppendTimeline(models.EventCreated, reporterActor(input.Reporter), "")

	if err := s.store.Incidents().Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if err := s.logAndBroadcast(ctx, inc, models.EventCreated, input.Reporter, ""); err != nil {
		return nil, err
	}
	return inc, nil
}

// UpdateInput is a sparse patch; nil fields are left unchanged.
type UpdateInput struct {
	Status     *models.Status
	Severity   *models.Severity
	AssignedTo *string
	Tags       []string
	Reporter   models.Reporter
	Note       string
}

// Update applies a sparse patch, keeps the resolved_at invariant, chain-logs
// the derived event type, and broadcasts. Unknown id yields ErrNotFound.
func (s *Service) Update(ctx context.Context, id string, patch UpdateInput) (*models.Incident, error) {
	inc, err := s.store.Incidents().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	eventType := models.EventUpdated
	if patch.Severity != nil {
		if !patch.Severity.Valid() {
			return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, *patch.Severity)
		}
		if patch.Severity.AtLeast(models.SeverityHigh) {
			eventType = models.EventEscalated
		}
		inc.Severity = *patch.Severity
	}
	if patch.AssignedTo != nil {
		if *patch.AssignedTo != "" {
			eventType = models.EventAssigned
		}
		inc.AssignedTo = *patch.AssignedTo
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
		}
		inc.Status = *patch.Status
		// resolved_at is set iff the status is terminal.
		switch {
		case inc.Status == models.StatusResolved:
			eventType = models.EventResolved
		case inc.Status == models.StatusClosed:
			eventType = models.EventClosed
		}
		if inc.Status.Terminal() {
			if inc.ResolvedAt == nil {
				now := time.Now().UTC()
				inc.ResolvedAt = &now
			}
		} else {
			inc.ResolvedAt = nil
		}
	}
	if patch.Tags != nil {
		inc.Tags = patch.Tags
	}

	inc.UpdatedAt = time.Now().UTC()
	inc.AppendTimeline(eventType, reporterActor(patch.Reporter), patch.Note)

	if err := s.store.Incidents().Update(ctx, inc); err != nil {
		return nil, err
	}

	if err := s.logAndBroadcast(ctx, inc, eventType, patch.Reporter, patch.Note); err != nil {
		return nil, err
	}
	return inc, nil
}

// Get returns one incident by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Incident, error) {
	return s.store.Incidents().GetByID(ctx, id)
}

// List returns incidents, most-recently-updated first.
func (s *Service) List(ctx context.Context, filter *storage.IncidentFilter) ([]*models.Incident, error) {
	return s.store.Incidents().List(ctx, filter)
}

// LinkInput describes a causality edge between two incidents.
type LinkInput struct {
	SourceID     string
	TargetID     string
	Relationship models.RelationshipType
	Confidence   float64
	PredictedBy  string
}

// Link creates a causality edge. Edges that would close a cycle are rejected
// with ErrCycle; "A caused B caused A" is treated as data corruption, not a
// feedback-loop representation.
func (s *Service) Link(ctx context.Context, input LinkInput) (*models.CausalityLink, error) {
	if !input.Relationship.Valid() {
		return nil, fmt.Errorf("%w: unknown relationship %q", ErrInvalidInput, input.Relationship)
	}
	if input.Confidence < 0 || input.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidInput)
	}
	if _, err := s.store.Incidents().GetByID(ctx, input.SourceID); err != nil {
		return nil, err
	}
	if _, err := s.store.Incidents().GetByID(ctx, input.TargetID); err != nil {
		return nil, err
	}

	cyclic, err := s.store.Causality().WouldCycle(ctx, input.SourceID, input.TargetID)
	if err != nil {
		return nil, fmt.Errorf("cycle check: %w", err)
	}
	if cyclic {
		return nil, ErrCycle
	}

	link := &models.CausalityLink{
		ID:               uuid.New().String(),
		SourceIncidentID: input.SourceID,
		TargetIncidentID: input.TargetID,
		Relationship:     input.Relationship,
		Confidence:       input.Confidence,
		PredictedBy:      input.PredictedBy,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.Causality().CreateLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// logAndBroadcast mirrors an incident change into the chain and fans it out.
// The chain append is mandatory; broadcasting is best-effort.
func (s *Service) logAndBroadcast(ctx context.Context, inc *models.Incident, eventType string, reporter models.Reporter, note string) error {
	entry, err := s.engine.LogEvent(ctx, chain.EventInput{
		IncidentID: inc.ID,
		EventType:  eventType,
		EventData: models.EventData{
			Kind:    "incident",
			Version: 1,
			Incident: &models.IncidentEventData{
				Title:      inc.Title,
				Severity:   inc.Severity,
				Status:     inc.Status,
				AssignedTo: inc.AssignedTo,
				Note:       note,
			},
		},
		Reporter: reporter,
	})

	if err != nil {
		return fmt.Errorf("chain log %s: %w", eventType, err)
	}

	if s.broadcaster != nil {
		s.broadcaster.PublishIncident(inc)
		s.broadcaster.PublishChain(entry)
	}
	return nil
}

func reporterActor(r models.Reporter) string {
	if r.Name != "" {
		return r.Name
	}
	if r.ID != "" {
		return r.ID
	}
	return string(models.ReporterSystem)
}
