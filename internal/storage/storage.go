// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSequence is returned when a chain append loses the race for a
// sequence number. Callers retry against the new tail.
var ErrDuplicateSequence = errors.New("duplicate chain sequence")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Incidents() IncidentRepository
	Chain() ChainRepository
	Agents() AgentRepository
	Causality() CausalityRepository
}

// IncidentFilter narrows incident listings. All present fields are ANDed.
type IncidentFilter struct {
	Statuses   []models.Status
	Severities []models.Severity
	Limit      int
}

// IncidentRepository defines operations for incident persistence. Incidents
// are soft-lifecycle only; there is intentionally no Delete.
type IncidentRepository interface {
	Create(ctx context.Context, inc *models.Incident) error
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	Update(ctx context.Context, inc *models.Incident) error
	List(ctx context.Context, filter *IncidentFilter) ([]*models.Incident, error)
	ListUpdatedSince(ctx context.Context, since time.Time, filter *IncidentFilter) ([]*models.Incident, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
}

// ChainFilter narrows chain entry listings.
type ChainFilter struct {
	IncidentID string
	SinceSeq   int64 // entries with sequence strictly greater
	Limit      int
}

// ChainTail is the monotonic tail of the chain: the highest sequence and its
// event hash, which the engine needs to extend the chain.
type ChainTail struct {
	Sequence  int64
	EventHash string
}

// ChainRepository defines operations over the append-only chain. Append is the
// only write; entries are never mutated or deleted.
type ChainRepository interface {
	Append(ctx context.Context, entry *models.ChainEntry) error
	GetByID(ctx context.Context, id string) (*models.ChainEntry, error)
	GetBySequence(ctx context.Context, seq int64) (*models.ChainEntry, error)
	// Latest returns the chain tail, or a zero ChainTail for an empty chain.
	Latest(ctx context.Context) (*ChainTail, error)
	// List returns entries in ascending sequence order.
	List(ctx context.Context, filter *ChainFilter) ([]*models.ChainEntry, error)
	// ListRange returns entries created within [since, until] ascending.
	ListRange(ctx context.Context, since, until time.Time) ([]*models.ChainEntry, error)
	// RecentHashes returns the event hashes of the latest n entries in
	// ascending sequence order.
	RecentHashes(ctx context.Context, n int) ([]string, error)
	Count(ctx context.Context) (int64, error)
	CountByEventType(ctx context.Context) (map[string]int64, error)
	CountByReporterType(ctx context.Context) (map[models.ReporterType]int64, error)
}

// AgentRepository defines operations for agent run records and activity.
type AgentRepository interface {
	CreateRun(ctx context.Context, run *models.AgentRun) error
	ListRuns(ctx context.Context, agentID string, limit int) ([]*models.AgentRun, error)
	CreateActivity(ctx context.Context, act *models.AgentActivity) error
	ListActivity(ctx context.Context, agentIDs []string, limit int) ([]*models.AgentActivity, error)
	ListActivitySince(ctx context.Context, since time.Time, agentIDs []string) ([]*models.AgentActivity, error)
}

// CausalityRepository defines operations over the incident cascade graph.
type CausalityRepository interface {
	CreateLink(ctx context.Context, link *models.CausalityLink) error
	ListByIncident(ctx context.Context, incidentID string) ([]*models.CausalityLink, error)
	ListAll(ctx context.Context, limit int) ([]*models.CausalityLink, error)
	MarkPrevented(ctx context.Context, id, preventedBy string) error
	// WouldCycle reports whether adding source -> target would close a cycle,
	// i.e. whether source is already reachable from target.
	WouldCycle(ctx context.Context, sourceID, targetID string) (bool, error)
}

// ChainArchive mirrors chain entries into an analytical store for offline
// audit work. The archive is best-effort: it is never consulted for chain
// integrity and archive failures never fail an append.
type ChainArchive interface {
	Open() error
	Close() error
	InsertEntries(ctx context.Context, entries []*models.ChainEntry) error
}
