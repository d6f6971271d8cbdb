package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/metrics"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// Agent identifiers.
const (
	AgentPredictor = "cascade-predictor"
	AgentResolver  = "auto-resolver"
)

func newID() string { return uuid.New().String() }

// Runner orchestrates agent invocations: it runs the predictor or resolver,
// writes the run record and activity feed, and chain-logs the run. The run
// record is written regardless of per-incident outcomes.
type Runner struct {
	store       storage.Storage
	engine      *chain.Engine
	service     *incidents.Service
	resolver    *Resolver
	broadcaster *broadcast.Broadcaster

	// limiter bounds continuous-mode runs.
	limiter *rate.Limiter
}

// NewRunner creates an agent runner.
func NewRunner(store storage.Storage, engine *chain.Engine, service *incidents.Service, resolver *Resolver, b *broadcast.Broadcaster) *Runner {
	return &Runner{
		store:       store,
		engine:      engine,
		service:     service,
		resolver:    resolver,
		broadcaster: b,
		limiter:     rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

// RunResolution resolves a single incident by id.
func (r *Runner) RunResolution(ctx context.Context, incidentID string, runType models.RunType) (*ResolveResult, error) {
	inc, err := r.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := r.resolver.ResolveIncident(ctx, inc)

	run := &models.AgentRun{
		ID:                newID(),
		AgentID:           AgentResolver,
		AgentName:         r.resolver.Reporter().Name,
		IncidentsAnalyzed: 1,
		CascadesPrevented: result.CascadesPrevented,
		RunType:           runType,
		Status:            models.RunCompleted,
		StartedAt:         started.UTC(),
		Duration:          time.Since(started),
	}
	if result.Success {
		run.IncidentsResolved = 1
		metrics.AgentIncidentsResolved.Inc()
	}
	r.finishRun(ctx, run, result.Error)

	recordActivity(ctx, r.store, r.resolver.Reporter(), "resolve_incident", incidentID,
		fmt.Sprintf("success=%t actions=%d", result.Success, len(result.ActionsExecuted)),
		r.publishActivity())
	return result, nil
}

// RunBatchResolution resolves up to limit pending incidents.
func (r *Runner) RunBatchResolution(ctx context.Context, limit int, runType models.RunType) (*BatchResult, error) {
	started := time.Now()
	batch, err := r.resolver.ResolvePending(ctx, limit)

	run := &models.AgentRun{
		ID:        newID(),
		AgentID:   AgentResolver,
		AgentName: r.resolver.Reporter().Name,
		RunType:   runType,
		Status:    models.RunCompleted,
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
	}
	var failDetail string
	if err != nil {
		run.Status = models.RunFailed
		failDetail = err.Error()
	} else {
		run.IncidentsAnalyzed = batch.Attempted
		run.IncidentsResolved = batch.Resolved
		for _, res := range batch.Results {
			run.CascadesPrevented += res.CascadesPrevented
		}
	}
	r.finishRun(ctx, run, failDetail)

	if err != nil {
		return nil, err
	}
	recordActivity(ctx, r.store, r.resolver.Reporter(), "batch_resolution", "",
		fmt.Sprintf("attempted=%d resolved=%d failed=%d", batch.Attempted, batch.Resolved, batch.Failed),
		r.publishActivity())
	return batch, nil
}

// RunPrediction generates cascade predictions for one incident, chain-logs
// each prediction, and links any open incident whose category matches a
// predicted cascade.
func (r *Runner) RunPrediction(ctx context.Context, incidentID string, runType models.RunType) ([]Prediction, error) {
	inc, err := r.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	reporter := models.Reporter{Type: models.ReporterAgent, ID: AgentPredictor, Name: "Cascade Prediction Agent"}
	predictions := PredictionsForIncident(inc)

	for _, p := range predictions {
		if _, err := r.engine.LogEvent(ctx, chain.EventInput{
			IncidentID: inc.ID,
			EventType:  models.EventPrediction,
			EventData: models.EventData{
				Kind:    "prediction",
				Version: 1,
				Prediction: &models.PredictionEventData{
					Category:   p.Category,
					Confidence: p.Confidence,
					Rationale:  p.Rationale,
				},
			},
			Reporter: reporter,
		}); err != nil {
			log.Printf("prediction chain log error: %v", err)
		}
	}

	linked := r.linkPredictedCascades(ctx, inc, predictions)

	run := &models.AgentRun{
		ID:                   newID(),
		AgentID:              AgentPredictor,
		AgentName:            reporter.Name,
		IncidentsAnalyzed:    1,
		PredictionsGenerated: len(predictions),
		RunType:              runType,
		Status:               models.RunCompleted,
		StartedAt:            started.UTC(),
		Duration:             time.Since(started),
	}
	r.finishRun(ctx, run, "")

	recordActivity(ctx, r.store, reporter, "generate_predictions", inc.ID,
		fmt.Sprintf("predictions=%d linked=%d", len(predictions), linked),
		r.publishActivity())
	return predictions, nil
}

// linkPredictedCascades creates causality edges from inc to open incidents in
// predicted categories. Cycle rejections are expected and skipped.
func (r *Runner) linkPredictedCascades(ctx context.Context, inc *models.Incident, predictions []Prediction) int {
	open, err := r.store.Incidents().List(ctx, &storage.IncidentFilter{
		Statuses: []models.Status{models.StatusOpen, models.StatusInvestigating},
		Limit:    50,
	})
	if err != nil {
		return 0
	}

	linked := 0
	for _, p := range predictions {
		for _, candidate := range open {
			if candidate.ID == inc.ID || CategoryFor(candidate) != p.Category {
				continue
			}
			_, err := r.service.Link(ctx, incidents.LinkInput{
				SourceID:     inc.ID,
				TargetID:     candidate.ID,
				Relationship: models.RelCauses,
				Confidence:   p.Confidence,
				PredictedBy:  AgentPredictor,
			})
			if err != nil {
				if !errors.Is(err, incidents.ErrCycle) {
					log.Printf("cascade link error: %v", err)
				}
				continue
			}
			linked++
		}
	}
	return linked
}

// SimulateActivity writes demo activity entries for dashboards.
func (r *Runner) SimulateActivity(ctx context.Context, count int) int {
	if count <= 0 || count > 20 {
		count = 5
	}
	actions := []string{"scan_incidents", "evaluate_playbooks", "refresh_predictions", "watch_chain"}
	agents := []models.Reporter{
		{Type: models.ReporterAgent, ID: AgentPredictor, Name: "Cascade Prediction Agent"},
		{Type: models.ReporterAgent, ID: AgentResolver, Name: "Auto-Resolution Agent"},
	}
	for i := 0; i < count; i++ {
		recordActivity(ctx, r.store, agents[i%len(agents)], actions[i%len(actions)], "",
			"simulated", r.publishActivity())
	}
	return count
}

// RunContinuous periodically resolves pending incidents until ctx is
// canceled. The limiter bounds run frequency even if interval is tiny.
func (r *Runner) RunContinuous(ctx context.Context, interval time.Duration, batchLimit int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.limiter.Allow() {
				continue
			}
			if _, err := r.RunBatchResolution(ctx, batchLimit, models.RunContinuous); err != nil {
				log.Printf("continuous resolution error: %v", err)
			}
		}
	}
}

// finishRun persists the run record, chain-logs it, and bumps metrics. The
// run record is observability only; failures here are logged and swallowed.
func (r *Runner) finishRun(ctx context.Context, run *models.AgentRun, failDetail string) {
	if err := r.store.Agents().CreateRun(ctx, run); err != nil {
		log.Printf("agent run record error: %v", err)
	}
	metrics.AgentRunsTotal.WithLabelValues(run.AgentID, string(run.Status)).Inc()

	if _, err := r.engine.LogEvent(ctx, chain.EventInput{
		EventType: models.EventAgentRun,
		EventData: models.EventData{
			Kind:    "agent_run",
			Version: 1,
			AgentRun: &models.AgentRunEventData{
				AgentID:  run.AgentID,
				RunType:  string(run.RunType),
				Analyzed: run.IncidentsAnalyzed,
				Resolved: run.IncidentsResolved,
			},
		},
		Reporter: models.Reporter{Type: models.ReporterAgent, ID: run.AgentID, Name: run.AgentName},
	}); err != nil {
		log.Printf("agent run chain log error: %v", err)
	}
	if failDetail != "" {
		log.Printf("agent run %s finished with failure detail: %s", run.ID, failDetail)
	}
}

func (r *Runner) publishActivity() func(*models.AgentActivity) {
	if r.broadcaster == nil {
		return nil
	}
	return r.broadcaster.PublishActivity
}
