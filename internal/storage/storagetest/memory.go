// Package storagetest provides an in-memory Storage implementation for
// handler and service tests.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// Memory is an in-memory storage.Storage. Zero-value repos are not usable;
// construct with New.
type Memory struct {
	IncidentRepo  *IncidentRepo
	ChainRepo     *ChainRepo
	AgentRepo     *AgentRepo
	CausalityRepo *CausalityRepo
}

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		IncidentRepo:  &IncidentRepo{byID: make(map[string]*models.Incident)},
		ChainRepo:     &ChainRepo{},
		AgentRepo:     &AgentRepo{},
		CausalityRepo: &CausalityRepo{},
	}
}

func (m *Memory) Open() error    { return nil }
func (m *Memory) Close() error   { return nil }
func (m *Memory) Migrate() error { return nil }

func (m *Memory) Incidents() storage.IncidentRepository  { return m.IncidentRepo }
func (m *Memory) Chain() storage.ChainRepository         { return m.ChainRepo }
func (m *Memory) Agents() storage.AgentRepository        { return m.AgentRepo }
func (m *Memory) Causality() storage.CausalityRepository { return m.CausalityRepo }

// IncidentRepo is an in-memory storage.IncidentRepository.
type IncidentRepo struct {
	mu    sync.Mutex
	byID  map[string]*models.Incident
	order []string

	// FailCreate, when set, is returned by every Create call.
	FailCreate error
}

func (r *IncidentRepo) Create(ctx context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate != nil {
		return r.FailCreate
	}
	clone := *inc
	r.byID[inc.ID] = &clone
	r.order = append(r.order, inc.ID)
	return nil
}

func (r *IncidentRepo) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *inc
	return &clone, nil
}

func (r *IncidentRepo) Update(ctx context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[inc.ID]; !ok {
		return storage.ErrNotFound
	}
	clone := *inc
	r.byID[inc.ID] = &clone
	return nil
}

func (r *IncidentRepo) List(ctx context.Context, filter *storage.IncidentFilter) ([]*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Incident
	for _, id := range r.order {
		inc := r.byID[id]
		if !matches(inc, filter) {
			continue
		}
		clone := *inc
		out = append(out, &clone)
		if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *IncidentRepo) ListUpdatedSince(ctx context.Context, since time.Time, filter *storage.IncidentFilter) ([]*models.Incident, error) {
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

func (r *IncidentRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}

func (r *IncidentRepo) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.Status]int64)
	for _, inc := range r.byID {
		out[inc.Status]++
	}
	return out, nil
}

func matches(inc *models.Incident, filter *storage.IncidentFilter) bool {
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

// ChainRepo is an in-memory storage.ChainRepository. Entries are kept in
// append order, which for a healthy engine is ascending sequence order.
type ChainRepo struct {
	mu      sync.Mutex
	entries []*models.ChainEntry
}

func (r *ChainRepo) Append(ctx context.Context, entry *models.ChainEntry) error {
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

func (r *ChainRepo) GetByID(ctx context.Context, id string) (*models.ChainEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *ChainRepo) GetBySequence(ctx context.Context, seq int64) (*models.ChainEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Sequence == seq {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *ChainRepo) Latest(ctx context.Context) (*storage.ChainTail, error) {
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

func (r *ChainRepo) List(ctx context.Context, filter *storage.ChainFilter) ([]*models.ChainEntry, error) {
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
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *ChainRepo) ListRange(ctx context.Context, since, until time.Time) ([]*models.ChainEntry, error) {
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

func (r *ChainRepo) RecentHashes(ctx context.Context, n int) ([]string, error) {
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

func (r *ChainRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

func (r *ChainRepo) CountByEventType(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, e := range r.entries {
		out[e.EventType]++
	}
	return out, nil
}

func (r *ChainRepo) CountByReporterType(ctx context.Context) (map[models.ReporterType]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.ReporterType]int64)
	for _, e := range r.entries {
		out[e.ReporterType]++
	}
	return out, nil
}

// ByEventType returns the stored entries with the given event type.
func (r *ChainRepo) ByEventType(eventType string) []*models.ChainEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChainEntry
	for _, e := range r.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// AgentRepo is an in-memory storage.AgentRepository. ListRuns and ListActivity
// return newest first, matching the SQL implementations.
type AgentRepo struct {
	mu       sync.Mutex
	runs     []*models.AgentRun
	activity []*models.AgentActivity
}

func (r *AgentRepo) CreateRun(ctx context.Context, run *models.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *AgentRepo) ListRuns(ctx context.Context, agentID string, limit int) ([]*models.AgentRun, error) {
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

func (r *AgentRepo) CreateActivity(ctx context.Context, act *models.AgentActivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity = append(r.activity, act)
	return nil
}

func (r *AgentRepo) ListActivity(ctx context.Context, agentIDs []string, limit int) ([]*models.AgentActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AgentActivity
	for i := len(r.activity) - 1; i >= 0; i-- {
		if len(agentIDs) > 0 && !contains(agentIDs, r.activity[i].AgentID) {
			continue
		}
		out = append(out, r.activity[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *AgentRepo) ListActivitySince(ctx context.Context, since time.Time, agentIDs []string) ([]*models.AgentActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AgentActivity
	for _, act := range r.activity {
		if !act.CreatedAt.After(since) {
			continue
		}
		if len(agentIDs) > 0 && !contains(agentIDs, act.AgentID) {
			continue
		}
		out = append(out, act)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CausalityRepo is an in-memory storage.CausalityRepository. WouldCycle does a
// full reachability walk like the SQL implementation.
type CausalityRepo struct {
	mu    sync.Mutex
	links []*models.CausalityLink
}

func (r *CausalityRepo) CreateLink(ctx context.Context, link *models.CausalityLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, link)
	return nil
}

func (r *CausalityRepo) ListByIncident(ctx context.Context, incidentID string) ([]*models.CausalityLink, error) {
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

func (r *CausalityRepo) ListAll(ctx context.Context, limit int) ([]*models.CausalityLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*models.CausalityLink(nil), r.links...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CausalityRepo) MarkPrevented(ctx context.Context, id, preventedBy string) error {
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

func (r *CausalityRepo) WouldCycle(ctx context.Context, sourceID, targetID string) (bool, error) {
	if sourceID == targetID {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

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
