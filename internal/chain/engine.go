// Package chain implements the tamper-evident incident log chain: hash-linked
// append, verification, Merkle proofs, and audit export.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/incidentchain/internal/metrics"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// GenesisHash is the previous_hash of the first chain entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// DefaultMerkleWindow bounds how many trailing hashes feed each entry's
// merkle_root.
const DefaultMerkleWindow = 64

// appendRetries is how many times an append retries after losing the
// sequence race to a concurrent writer.
const appendRetries = 3

// EventInput describes an event to be appended to the chain.
type EventInput struct {
	IncidentID string // empty means models.SystemIncidentID
	EventType  string
	EventData  models.EventData
	Reporter   models.Reporter
}

// VerifyResult is the outcome of a chain walk. A broken chain is a normal,
// reportable result, not an error.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Entries  int64  `json:"entries"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Stats aggregates chain counters. No integrity semantics.
type Stats struct {
	TotalEntries   int64                         `json:"total_entries"`
	LatestSequence int64                         `json:"latest_sequence"`
	ByEventType    map[string]int64              `json:"entries_by_type"`
	ByReporterType map[models.ReporterType]int64 `json:"entries_by_reporter_type"`
}

// Engine maintains the hash-linked chain. Appends are serialized through an
// in-process mutex (single logical writer region), with the store's UNIQUE
// sequence constraint as a backstop against a second process extending the
// same tail.
type Engine struct {
	store   storage.ChainRepository
	archive storage.ChainArchive
	window  int

	mu sync.Mutex
}

// NewEngine creates a chain engine. archive may be nil.
func NewEngine(store storage.ChainRepository, archive storage.ChainArchive) *Engine {
	return &Engine{
		store:   store,
		archive: archive,
		window:  DefaultMerkleWindow,
	}
}

// LogEvent appends a hash-linked entry for the given event and returns it.
// Broadcasting is the caller's responsibility.
func (e *Engine) LogEvent(ctx context.Context, input EventInput) (*models.ChainEntry, error) {
	if input.EventType == "" {
		return nil, fmt.Errorf("event type is required")
	}
	incidentID := input.IncidentID
	if incidentID == "" {
		incidentID = models.SystemIncidentID
	}
	reporter := input.Reporter
	if !reporter.Type.Valid() {
		reporter.Type = models.ReporterSystem
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		entry, err := e.appendOnce(ctx, incidentID, input.EventType, input.EventData, reporter)
		if err == storage.ErrDuplicateSequence {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.ChainAppendsTotal.WithLabelValues(entry.EventType).Inc()
		e.mirrorToArchive(entry)
		return entry, nil
	}
	return nil, fmt.Errorf("append chain entry: %w", lastErr)
}

func (e *Engine) appendOnce(ctx context.Context, incidentID, eventType string, data models.EventData, reporter models.Reporter) (*models.ChainEntry, error) {
	tail, err := e.store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	previousHash := GenesisHash
	if tail.Sequence > 0 {
		previousHash = tail.EventHash
	}

	entry := &models.ChainEntry{
		ID:           uuid.New().String(),
		Sequence:     tail.Sequence + 1,
		PreviousHash: previousHash,
		EventType:    eventType,
		EventData:    data,
		IncidentID:   incidentID,
		ReporterType: reporter.Type,
		ReporterID:   reporter.ID,
		ReporterName: reporter.Name,
		CreatedAt:    time.Now().UTC(),
	}

	hash, err := ComputeHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EventHash = hash

	recent, err := e.store.RecentHashes(ctx, e.window-1)
	if err != nil {
		return nil, fmt.Errorf("read recent hashes: %w", err)
	}
	entry.MerkleRoot = MerkleRoot(append(recent, entry.EventHash))

	if err := e.store.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// mirrorToArchive copies the entry into the analytical archive. Best effort:
// failures are logged, never propagated.
func (e *Engine) mirrorToArchive(entry *models.ChainEntry) {
	if e.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.archive.InsertEntries(ctx, []*models.ChainEntry{entry}); err != nil {
		log.Printf("chain archive mirror error (seq %d): %v", entry.Sequence, err)
	}
}

// VerifyChain walks all entries in ascending sequence order, recomputing each
// hash and checking linkage. It reports the first divergence, if any. An empty
// or single-entry chain is trivially valid.
func (e *Engine) VerifyChain(ctx context.Context) (*VerifyResult, error) {
	result, err := e.verifyChain(ctx)
	switch {
	case err != nil:
		metrics.ChainVerificationsTotal.WithLabelValues("error").Inc()
		return nil, err
	case result.Valid:
		metrics.ChainVerificationsTotal.WithLabelValues("valid").Inc()
	default:
		metrics.ChainVerificationsTotal.WithLabelValues("broken").Inc()
	}
	return result, nil
}

func (e *Engine) verifyChain(ctx context.Context) (*VerifyResult, error) {
	const pageSize = 500

	result := &VerifyResult{Valid: true}
	previousHash := GenesisHash
	var lastSeq int64

	for {
		entries, err := e.store.List(ctx, &storage.ChainFilter{SinceSeq: lastSeq, Limit: pageSize})
		if err != nil {
			return nil, fmt.Errorf("list chain entries: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			result.Entries++

			if entry.Sequence != lastSeq+1 {
				result.Valid = false
				result.BrokenAt = entry.Sequence
				result.Details = fmt.Sprintf("sequence gap: expected %d, found %d", lastSeq+1, entry.Sequence)
				return result, nil
			}
			if entry.PreviousHash != previousHash {
				result.Valid = false
				result.BrokenAt = entry.Sequence
				result.Details = fmt.Sprintf("previous_hash mismatch at sequence %d", entry.Sequence)
				return result, nil
			}

			recomputed, err := ComputeHash(entry)
			if err != nil {
				return nil, err
			}
			if recomputed != entry.EventHash {
				result.Valid = false
				result.BrokenAt = entry.Sequence
				result.Details = fmt.Sprintf("event_hash mismatch at sequence %d", entry.Sequence)
				return result, nil
			}

			previousHash = entry.EventHash
			lastSeq = entry.Sequence
		}

		if len(entries) < pageSize {
			break
		}
	}

	return result, nil
}

// Stats aggregates chain counters, running the count queries in parallel.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		stats.TotalEntries, err = e.store.Count(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		stats.ByEventType, err = e.store.CountByEventType(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		stats.ByReporterType, err = e.store.CountByReporterType(gCtx)
		return err
	})
	g.Go(func() error {
		tail, err := e.store.Latest(gCtx)
		if err == nil {
			stats.LatestSequence = tail.Sequence
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("chain stats: %w", err)
	}
	return stats, nil
}

// canonicalPayload is the hashed representation of an entry. Field order is
// fixed by the struct, so the encoding is deterministic; never hash a map.
type canonicalPayload struct {
	Sequence     int64            `json:"sequence_number"`
	PreviousHash string           `json:"previous_hash"`
	EventType    string           `json:"event_type"`
	EventData    models.EventData `json:"event_data"`
	IncidentID   string           `json:"incident_id"`
	ReporterType string           `json:"reporter_type"`
	ReporterID   string           `json:"reporter_id"`
	ReporterName string           `json:"reporter_name"`
	CreatedAt    string           `json:"created_at"`
}

// ComputeHash returns the deterministic SHA-256 hash of an entry's canonical
// fields. The stored EventHash and MerkleRoot are not part of the input.
func ComputeHash(entry *models.ChainEntry) (string, error) {
	payload := canonicalPayload{
		Sequence:     entry.Sequence,
		PreviousHash: entry.PreviousHash,
		EventType:    entry.EventType,
		EventData:    entry.EventData,
		IncidentID:   entry.IncidentID,
		ReporterType: string(entry.ReporterType),
		ReporterID:   entry.ReporterID,
		ReporterName: entry.ReporterName,
		CreatedAt:    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal canonical payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ValidHash reports whether s looks like a SHA-256 hex digest.
func ValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(strings.ToLower(s))
	return err == nil
}
