package incidents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// mockStorage is an in-memory Storage for service tests.
type mockStorage struct {
	incidents *mockIncidentRepo
	chain     *mockChainRepo
	agents    *mockAgentRepo
	causality *mockCausalityRepo
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		incidents: &mockIncidentRepo{byID: make(map[string]*models.Incident)},
		chain:     &mockChainRepo{},
		agents:    &mockAgentRepo{},
		causality: &mockCausalityRepo{},
	}
}

func (m *mockStorage) Open() error    { return nil }
func (m *mockStorage) Close() error   { return nil }
func (m *mockStorage) Migrate() error { return nil }

func (m *mockStorage) Incidents() storage.IncidentRepository { return m.incidents }
func (m *mockStorage) Chain() storage.ChainRepository        { return m.chain }
func (m *mockStorage) Agents() storage.AgentRepository       { return m.agents }
func (m *mockStorage) Causality() storage.CausalityRepository { return m.causality }

type mockIncidentRepo struct {
	mu    sync.Mutex
	byID  map[string]*models.Incident
	order []string

	failCreate error
}

func (r *mockIncidentRepo) Create(ctx context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	clone := *inc
	r.byID[inc.ID] = &clone
	r.order = append(r.order, inc.ID)
	return nil
}

func (r *mockIncidentRepo) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *inc
	return &clone, nil
}

func (r *mockIncidentRepo) Update(ctx context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[inc.ID]; !ok {
		return storage.ErrNotFound
	}
	clone := *inc
	r.byID[inc.ID] = &clone
	return nil
}

func (r *mockIncidentRepo) List(ctx context.Context, filter *storage.IncidentFilter) ([]*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Incident
	for _, id := range r.order {
		inc := r.byID[id]
		if !matchesFilter(inc, filter) {
			continue
		}
		clone := *inc
		out = append(out, &clone)
	}
	if filter != nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *mockIncidentRepo) ListUpdatedSince(ctx context.Context, since time.Time, filter *storage.IncidentFilter) ([]*models.Incident, error) {
	all, err := r.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []*models.Incident
	for _, inc := range all {
		if inc.UpdatedAt.After(since) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (r *mockIncidentRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}

func (r *mockIncidentRepo) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.Status]int64)
	for _, inc := range r.byID {
		out[inc.Status]++
	}
	return out, nil
}

func matchesFilter(inc *models.Incident, filter *storage.IncidentFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if inc.Status == st {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Severities) > 0 {
		found := false
		for _, sev := range filter.Severities {
			if inc.Severity == sev {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type mockChainRepo struct {
	mu      sync.Mutex
	entries []*models.ChainEntry
}

func (r *mockChainRepo) Append(ctx context.Context, entry *models.ChainEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Sequence == entry.Sequence {
			return storage.ErrDuplicateSequence
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *mockChainRepo) GetByID(ctx context.Context, id string) (*models.ChainEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *mockChainRepo) GetBySequence(ctx context.Context, seq int64) (*models.ChainEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Sequence == seq {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *mockChainRepo) Latest(ctx context.Context) (*storage.ChainTail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tail := &storage.ChainTail{}
	for _, e := range r.entries {
		if e.Sequence > tail.Sequence {
			tail.Sequence = e.Sequence
			tail.EventHash = e.EventHash
		}
	}
	return tail, nil
}

func (r *mockChainRepo) List(ctx context.Context, filter *storage.ChainFilter) ([]*models.ChainEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChainEntry
	for _, e := range r.entries {
		if filter.IncidentID != "" && e.IncidentID != filter.IncidentID {
			continue
		}
		if e.Sequence <= filter.SinceSeq {
			continue
		}
		out = append(out, e)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *mockChainRepo) ListRange(ctx context.Context, since, until time.Time) ([]*models.ChainEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChainEntry
	for _, e := range r.entries {
		if !e.CreatedAt.Before(since) && !e.CreatedAt.After(until) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *mockChainRepo) RecentHashes(ctx context.Context, n int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if n > 0 && len(r.entries) > n {
		start = len(r.entries) - n
	}
	var hashes []string
	for _, e := range r.entries[start:] {
		hashes = append(hashes, e.EventHash)
	}
	return hashes, nil
}

func (r *mockChainRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

func (r *mockChainRepo) CountByEventType(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, e := range r.entries {
		out[e.EventType]++
	}
	return out, nil
}

func (r *mockChainRepo) CountByReporterType(ctx context.Context) (map[models.ReporterType]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.ReporterType]int64)
	for _, e := range r.entries {
		out[e.ReporterType]++
	}
	return out, nil
}

func (r *mockChainRepo) lastEntry() *models.ChainEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type mockAgentRepo struct {
	mu       sync.Mutex
	runs     []*models.AgentRun
	activity []*models.AgentActivity
}

func (r *mockAgentRepo) CreateRun(ctx context.Context, run *models.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *mockAgentRepo) ListRuns(ctx context.Context, agentID string, limit int) ([]*models.AgentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AgentRun
	for i := len(r.runs) - 1; i >= 0; i-- {
		if agentID != "" && r.runs[i].AgentID != agentID {
			continue
		}
		out = append(out, r.runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *mockAgentRepo) CreateActivity(ctx context.Context, act *models.AgentActivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = append(r.activity, act)
	return nil
}

func (r *mockAgentRepo) ListActivity(ctx context.Context, agentIDs []string, limit int) ([]*models.AgentActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AgentActivity
	for i := len(r.activity) - 1; i >= 0; i-- {
		if len(agentIDs) > 0 && !containsID(agentIDs, r.activity[i].AgentID) {
			continue
		}
		out = append(out, r.activity[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *mockAgentRepo) ListActivitySince(ctx context.Context, since time.Time, agentIDs []string) ([]*models.AgentActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AgentActivity
	for _, act := range r.activity {
		if !act.CreatedAt.After(since) {
			continue
		}
		if len(agentIDs) > 0 && !containsID(agentIDs, act.AgentID) {
			continue
		}
		out = append(out, act)
	}
	return out, nil
}

func containsID(list []string, id string) bool {
	for _, s := range list {
		if s == id {
			return true
		}
	}
	return false
}

type mockCausalityRepo struct {
	mu    sync.Mutex
	links []*models.CausalityLink
}

func (r *mockCausalityRepo) CreateLink(ctx context.Context, link *models.CausalityLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, link)
	return nil
}

func (r *mockCausalityRepo) ListByIncident(ctx context.Context, incidentID string) ([]*models.CausalityLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CausalityLink
	for _, l := range r.links {
		if l.SourceIncidentID == incidentID || l.TargetIncidentID == incidentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *mockCausalityRepo) ListAll(ctx context.Context, limit int) ([]*models.CausalityLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.links
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockCausalityRepo) MarkPrevented(ctx context.Context, id, preventedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ID == id {
			now := time.Now().UTC()
			l.Prevented = true
			l.PreventedBy = preventedBy
			l.PreventedAt = &now
			return nil
		}
	}
	return storage.ErrNotFound
}

func (r *mockCausalityRepo) WouldCycle(ctx context.Context, sourceID, targetID string) (bool, error) {
	if sourceID == targetID {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// BFS from target looking for source.
	queue := []string{targetID}
	seen := map[string]bool{targetID: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, l := range r.links {
			if l.SourceIncidentID != current || seen[l.TargetIncidentID] {
				continue
			}
			if l.TargetIncidentID == sourceID {
				return true, nil
			}
			seen[l.TargetIncidentID] = true
			queue = append(queue, l.TargetIncidentID)
		}
	}
	return false, nil
}

func newTestService(store *mockStorage) *Service {
	engine := chain.NewEngine(store.chain, nil)
	return NewService(store, engine, broadcast.New(8))
}

func userReporter() models.Reporter {
	return models.Reporter{Type: models.ReporterUser, ID: "u1", Name: "analyst"}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMockStorage())
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateInput
	}{
		{"missing title", CreateInput{Description: "d"}},
		{"missing description", CreateInput{Title: "t"}},
		{"blank title", CreateInput{Title: "   ", Description: "d"}},
		{"unknown severity", CreateInput{Title: "t", Description: "d", Severity: "catastrophic"}},
		{"unknown status", CreateInput{Title: "t", Description: "d", Status: "limbo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.input)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCreateDefaultsAndChainLog(t *testing.T) {
	store := newMockStorage()
	svc := newTestService(store)

	inc, err := svc.Create(context.Background(), CreateInput{
		Title:       "Suspicious login burst",
		Description: "Multiple failed logins",
		Reporter:    userReporter(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if inc.Severity != models.SeverityMedium {
		t.Errorf("severity = %q, want medium default", inc.Severity)
	}
	if inc.Status != models.StatusOpen {
		t.Errorf("status = %q, want open default", inc.Status)
	}
	if inc.ResolvedAt != nil {
		t.Error("resolved_at set on open incident")
	}
	if len(inc.Timeline) != 1 || inc.Timeline[0].Action != models.EventCreated {
		t.Errorf("timeline = %+v, want one created entry", inc.Timeline)
	}

	entry := store.chain.lastEntry()
	if entry == nil {
		t.Fatal("no chain entry written")
	}
	if entry.EventType != models.EventCreated {
		t.Errorf("chain event type = %q, want created", entry.EventType)
	}
	if entry.IncidentID != inc.ID {
		t.Errorf("chain incident id = %q, want %q", entry.IncidentID, inc.ID)
	}
	if entry.ReporterType != models.ReporterUser {
		t.Errorf("chain reporter type = %q, want user", entry.ReporterType)
	}
}

func TestCreateTerminalStatusSetsResolvedAt(t *testing.T) {
	svc := newTestService(newMockStorage())

	inc, err := svc.Create(context.Background(), CreateInput{
		Title:       "t",
		Description: "d",
		Status:      models.StatusResolved,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inc.ResolvedAt == nil {
		t.Error("resolved_at not set for terminal status")
	}
}

func TestUpdateNotFound(t *testing.T) {
	svc := newTestService(newMockStorage())

	_, err := svc.Update(context.Background(), "missing", UpdateInput{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateEventTypePrecedence(t *testing.T) {
	ctx := context.Background()

	status := func(s models.Status) *models.Status { return &s }
	severity := func(s models.Severity) *models.Severity { return &s }
	str := func(s string) *string { return &s }

	tests := []struct {
		name  string
		patch UpdateInput
		want  string
	}{
		{
			"plain update",
			UpdateInput{Note: "looked at it"},
			models.EventUpdated,
		},
		{
			"low severity change is an update",
			UpdateInput{Severity: severity(models.SeverityLow)},
			models.EventUpdated,
		},
		{
			"raising to high escalates",
			UpdateInput{Severity: severity(models.SeverityHigh)},
			models.EventEscalated,
		},
		{
			"raising to critical escalates",
			UpdateInput{Severity: severity(models.SeverityCritical)},
			models.EventEscalated,
		},
		{
			"assignment beats escalation",
			UpdateInput{Severity: severity(models.SeverityCritical), AssignedTo: str("bob")},
			models.EventAssigned,
		},
		{
			"resolved beats everything",
			UpdateInput{Severity: severity(models.SeverityCritical), AssignedTo: str("bob"), Status: status(models.StatusResolved)},
			models.EventResolved,
		},
		{
			"closed beats assignment",
			UpdateInput{AssignedTo: str("bob"), Status: status(models.StatusClosed)},
			models.EventClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStorage()
			svc := newTestService(store)

			inc, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d"})
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			if _, err := svc.Update(ctx, inc.ID, tt.patch); err != nil {
				t.Fatalf("update: %v", err)
			}

			entry := store.chain.lastEntry()
			if entry.EventType != tt.want {
				t.Errorf("event type = %q, want %q", entry.EventType, tt.want)
			}
		})
	}
}

func TestUpdateReassertedHighSeverityEscalates(t *testing.T) {
	ctx := context.Background()
	store := newMockStorage()
	svc := newTestService(store)

	inc, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d", Severity: models.SeverityHigh})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Escalation keys off the patched severity alone. Re-asserting high is
	// still an escalation, not a plain update.
	sev := models.SeverityHigh
	if _, err := svc.Update(ctx, inc.ID, UpdateInput{Severity: &sev}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if entry := store.chain.lastEntry(); entry.EventType != models.EventEscalated {
		t.Errorf("event type = %q, want %q", entry.EventType, models.EventEscalated)
	}
}

func TestUpdateResolvedAtInvariant(t *testing.T) {
	ctx := context.Background()
	store := newMockStorage()
	svc := newTestService(store)

	status := func(s models.Status) *models.Status { return &s }

	inc, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resolved, err := svc.Update(ctx, inc.ID, UpdateInput{Status: status(models.StatusResolved)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("resolved_at not set on resolve")
	}
	firstResolved := *resolved.ResolvedAt

	// Closing an already-resolved incident keeps the original timestamp.
	closed, err := svc.Update(ctx, inc.ID, UpdateInput{Status: status(models.StatusClosed)})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ResolvedAt == nil || !closed.ResolvedAt.Equal(firstResolved) {
		t.Error("resolved_at changed when closing a resolved incident")
	}

	// Reopening clears it.
	reopened, err := svc.Update(ctx, inc.ID, UpdateInput{Status: status(models.StatusInvestigating)})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.ResolvedAt != nil {
		t.Error("resolved_at not cleared on reopen")
	}
}

func TestUpdateNilTagsLeaveTagsUnchanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMockStorage())

	inc, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d", Tags: []string{"auth"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, inc.ID, UpdateInput{Note: "n"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "auth" {
		t.Errorf("tags = %v, want [auth]", updated.Tags)
	}

	cleared, err := svc.Update(ctx, inc.ID, UpdateInput{Tags: []string{}})
	if err != nil {
		t.Fatalf("clear tags: %v", err)
	}
	if len(cleared.Tags) != 0 {
		t.Errorf("tags = %v, want empty after explicit clear", cleared.Tags)
	}
}

func TestLinkValidation(t *testing.T) {
	ctx := context.Background()
	store := newMockStorage()
	svc := newTestService(store)

	a, _ := svc.Create(ctx, CreateInput{Title: "a", Description: "d"})
	b, _ := svc.Create(ctx, CreateInput{Title: "b", Description: "d"})

	if _, err := svc.Link(ctx, LinkInput{SourceID: a.ID, TargetID: b.ID, Relationship: "entangled", Confidence: 0.5}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown relationship err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Link(ctx, LinkInput{SourceID: a.ID, TargetID: b.ID, Relationship: models.RelCauses, Confidence: 1.5}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("confidence err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Link(ctx, LinkInput{SourceID: "missing", TargetID: b.ID, Relationship: models.RelCauses, Confidence: 0.5}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source err = %v, want ErrNotFound", err)
	}
}

func TestLinkRejectsCycles(t *testing.T) {
	ctx := context.Background()
	store := newMockStorage()
	svc := newTestService(store)

	a, _ := svc.Create(ctx, CreateInput{Title: "a", Description: "d"})
	b, _ := svc.Create(ctx, CreateInput{Title: "b", Description: "d"})
	c, _ := svc.Create(ctx, CreateInput{Title: "c", Description: "d"})

	if _, err := svc.Link(ctx, LinkInput{SourceID: a.ID, TargetID: b.ID, Relationship: models.RelCauses, Confidence: 0.9}); err != nil {
		t.Fatalf("link a->b: %v", err)
	}
	if _, err := svc.Link(ctx, LinkInput{SourceID: b.ID, TargetID: c.ID, Relationship: models.RelCauses, Confidence: 0.9}); err != nil {
		t.Fatalf("link b->c: %v", err)
	}

	if _, err := svc.Link(ctx, LinkInput{SourceID: c.ID, TargetID: a.ID, Relationship: models.RelCauses, Confidence: 0.9}); !errors.Is(err, ErrCycle) {
		t.Errorf("closing cycle err = %v, want ErrCycle", err)
	}
	if _, err := svc.Link(ctx, LinkInput{SourceID: a.ID, TargetID: a.ID, Relationship: models.RelCauses, Confidence: 0.9}); !errors.Is(err, ErrCycle) {
		t.Errorf("self link err = %v, want ErrCycle", err)
	}
}
