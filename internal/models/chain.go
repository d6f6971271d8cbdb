package models

import (
	"encoding/json"
	"time"
)

// SystemIncidentID is the sentinel incident reference for chain entries that
// do not belong to a specific incident.
const SystemIncidentID = "system"

// ReporterType identifies what kind of actor produced a chain entry.
type ReporterType string

const (
	ReporterUser   ReporterType = "user"
	ReporterAgent  ReporterType = "agent"
	ReporterSystem ReporterType = "system"
)

// Valid reports whether r is a known reporter type.
func (r ReporterType) Valid() bool {
	switch r {
	case ReporterUser, ReporterAgent, ReporterSystem:
		return true
	}
	return false
}

// Reporter identifies the actor behind a logged event.
type Reporter struct {
	Type ReporterType `json:"type"`
	ID   string       `json:"id"`
	Name string       `json:"name"`
}

// Well-known chain event types. Event types are open-ended (the chain accepts
// any string), but these are the ones the service itself emits.
const (
	EventCreated    = "created"
	EventUpdated    = "updated"
	EventAssigned   = "assigned"
	EventEscalated  = "escalated"
	EventResolved   = "resolved"
	EventClosed     = "closed"
	EventPrediction = "prediction"
	EventAgentRun   = "agent_run"
)

// EventData is the structured payload of a chain entry, modeled as a tagged
// union keyed by Kind. Known kinds use the typed fields; anything else goes
// through Raw so unknown producers still round-trip. All variants are structs
// rather than maps so json.Marshal field order is deterministic, which the
// hash computation depends on.
type EventData struct {
	Kind    string `json:"kind"`
	Version int    `json:"version"`

	Incident   *IncidentEventData   `json:"incident,omitempty"`
	Prediction *PredictionEventData `json:"prediction,omitempty"`
	Resolution *ResolutionEventData `json:"resolution,omitempty"`
	AgentRun   *AgentRunEventData   `json:"agent_run,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// IncidentEventData captures the incident state relevant to a lifecycle event.
type IncidentEventData struct {
	Title      string   `json:"title,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Status     Status   `json:"status,omitempty"`
	AssignedTo string   `json:"assigned_to,omitempty"`
	Note       string   `json:"note,omitempty"`
}

// PredictionEventData captures a cascade prediction.
type PredictionEventData struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ResolutionEventData captures an automated resolution attempt.
type ResolutionEventData struct {
	Actions           []string `json:"actions,omitempty"`
	CascadesPrevented int      `json:"cascades_prevented,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// AgentRunEventData summarizes an agent invocation.
type AgentRunEventData struct {
	AgentID  string `json:"agent_id"`
	RunType  string `json:"run_type,omitempty"`
	Analyzed int    `json:"analyzed,omitempty"`
	Resolved int    `json:"resolved,omitempty"`
}

// ChainEntry is one append-only record in the tamper-evident log. Entries are
// written exactly once and never mutated or deleted.
type ChainEntry struct {
	ID           string       `json:"id"`
	Sequence     int64        `json:"sequence_number"`
	EventHash    string       `json:"event_hash"`
	PreviousHash string       `json:"previous_hash"`
	MerkleRoot   string       `json:"merkle_root"`
	EventType    string       `json:"event_type"`
	EventData    EventData    `json:"event_data"`
	IncidentID   string       `json:"incident_id"`
	ReporterType ReporterType `json:"reporter_type"`
	ReporterID   string       `json:"reporter_id"`
	ReporterName string       `json:"reporter_name"`
	CreatedAt    time.Time    `json:"created_at"`
}
