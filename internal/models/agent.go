package models

import "time"

// RunType describes how an agent invocation was started.
type RunType string

const (
	RunManual     RunType = "manual"
	RunContinuous RunType = "continuous"
	RunTriggered  RunType = "triggered"
)

// RunStatus is the terminal state of an agent run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AgentRun records one agent invocation, for observability only. Run records
// play no part in chain integrity.
type AgentRun struct {
	ID                   string        `json:"id"`
	AgentID              string        `json:"agent_id"`
	AgentName            string        `json:"agent_name"`
	IncidentsAnalyzed    int           `json:"incidents_analyzed"`
	IncidentsResolved    int           `json:"incidents_resolved"`
	PredictionsGenerated int           `json:"predictions_generated"`
	CascadesPrevented    int           `json:"cascades_prevented"`
	RunType              RunType       `json:"run_type"`
	Status               RunStatus     `json:"status"`
	StartedAt            time.Time     `json:"started_at"`
	Duration             time.Duration `json:"duration"`
}

// AgentActivity is one item in the live agent activity feed.
type AgentActivity struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	Action     string    `json:"action"`
	IncidentID string    `json:"incident_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
