package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/models"
)

// MaxTestIncidents caps one generator request.
const MaxTestIncidents = 100

// generator templates, rotated deterministically. This endpoint exists for
// demo dashboards only.
var testTemplates = []struct {
	title       string
	description string
	tags        []string
}{
	{"Suspicious login burst", "Multiple failed logins followed by a success from a new ASN", []string{"auth", "bruteforce"}},
	{"Outbound beacon detected", "Periodic outbound connections to a low-reputation host", []string{"network", "c2"}},
	{"Privilege escalation attempt", "setuid binary executed from a world-writable directory", []string{"host", "privesc"}},
	{"Data exfil volume anomaly", "Egress volume 40x above baseline for service account", []string{"data", "exfil"}},
	{"Malware signature match", "Known dropper hash observed on build runner", []string{"malware", "endpoint"}},
}

// TestGenInput configures a synthetic incident batch.
type TestGenInput struct {
	Type            string // severity-like class: low|medium|high|critical|mixed
	Count           int
	WithChain       bool
	WithResolutions bool
}

// TestGenResult summarizes a batch; per-unit failures never abort the batch.
type TestGenResult struct {
	Created   []*models.Incident `json:"created"`
	Failed    int                `json:"failed"`
	Errors    []string           `json:"errors,omitempty"`
	ChainType string             `json:"chain_event_type,omitempty"`
}

// GenerateTestIncidents creates count synthetic incidents using the settle-all
// pattern and records one agent activity entry for the batch.
func (s *Service) GenerateTestIncidents(ctx context.Context, input TestGenInput) (*TestGenResult, error) {
	if input.Count <= 0 {
		input.Count = 1
	}
	if input.Count > MaxTestIncidents {
		return nil, fmt.Errorf("%w: count must be at most %d", ErrInvalidInput, MaxTestIncidents)
	}

	severity := models.ParseSeverity(input.Type)
	mixed := input.Type == "mixed" || input.Type == ""
	severities := []models.Severity{
		models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical,
	}

	reporter := models.Reporter{
		Type: models.ReporterSystem,
		ID:   "test-generator",
		Name: "Test Incident Generator",
	}

	result := &TestGenResult{}
	for i := 0; i < input.Count; i++ {
		tpl := testTemplates[i%len(testTemplates)]
		sev := severity
		if mixed {
			sev = severities[i%len(severities)]
		}

		inc, err := s.createTestIncident(ctx, tpl.title, tpl.description, tpl.tags, sev, reporter, input.WithChain)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Created = append(result.Created, inc)

		if input.WithResolutions && i%2 == 0 {
			status := models.StatusResolved
			if _, err := s.Update(ctx, inc.ID, UpdateInput{Status: &status, Reporter: reporter}); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("resolve %s: %v", inc.ID, err))
			}
		}
	}
	if input.WithChain && !mixed {
		result.ChainType = models.EventCreated + "_" + string(severity)
	}

	// One activity record per batch, best effort.
	act := &models.AgentActivity{
		ID:        uuid.New().String(),
		AgentID:   reporter.ID,
		AgentName: reporter.Name,
		Action:    "generate_test_incidents",
		Details:   fmt.Sprintf("created %d, failed %d", len(result.Created), result.Failed),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Agents().CreateActivity(ctx, act); err == nil && s.broadcaster != nil {
		s.broadcaster.PublishActivity(act)
	}

	return result, nil
}

// createTestIncident persists one synthetic incident. When withChain is set
// the chain entry uses a severity-suffixed event type (e.g. created_critical)
// so demo dashboards can tell generated incidents apart.
func (s *Service) createTestIncident(ctx context.Context, title, description string, tags []string, sev models.Severity, reporter models.Reporter, withChain bool) (*models.Incident, error) {
	inc := models.NewIncident(title, description)
	inc.ID = uuid.New().String()
	inc.Severity = sev
	inc.Tags = append([]string{"synthetic"}, tags...)
	inc.AppendTimeline(models.EventCreated, reporter.Name, "synthetic incident")

	if err := s.store.Incidents().Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("create test incident: %w", err)
	}

	if withChain {
		entry, err := s.engine.LogEvent(ctx, chain.EventInput{
			IncidentID: inc.ID,
			EventType:  models.EventCreated + "_" + string(sev),
			EventData: models.EventData{
				Kind:    "incident",
				Version: 1,
				Incident: &models.IncidentEventData{
					Title:    inc.Title,
					Severity: inc.Severity,
					Status:   inc.Status,
					Note:     "synthetic",
				},
			},
			Reporter: reporter,
		})
		if err != nil {
			return nil, fmt.Errorf("chain log test incident: %w", err)
		}
		if s.broadcaster != nil {
			s.broadcaster.PublishChain(entry)
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.PublishIncident(inc)
	}
	return inc, nil
}
