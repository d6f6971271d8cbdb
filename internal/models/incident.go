// Package models defines the core data types shared across storage, services, and the API.
package models

import (
	"time"
)

// Severity represents incident severity, ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank gives severities a total order for comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Status represents the incident lifecycle state.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusContained, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether s ends the active lifecycle. Terminal incidents
// carry a resolved_at timestamp; non-terminal ones never do.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// TimelineEntry is one step in an incident's ordered history.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// Incident represents a security incident. Incidents are never physically
// deleted; the lifecycle is soft (status transitions only).
type Incident struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    Severity        `json:"severity"`
	Status      Status          `json:"status"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Timeline    []TimelineEntry `json:"timeline,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewIncident creates an incident with defaulted severity/status and
// initialized timestamps.
func NewIncident(title, description string) *Incident {
	now := time.Now().UTC()
	return &Incident{
		Title:       title,
		Description: description,
		Severity:    SeverityMedium,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendTimeline records an action on the incident's timeline.
func (i *Incident) AppendTimeline(action, actor, details string) {
	i.Timeline = append(i.Timeline, TimelineEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	})
}

// HasTag reports whether the incident carries the given tag.
func (i *Incident) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseSeverity converts a string to Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// ParseStatus converts a string to Status, defaulting to open.
func ParseStatus(s string) Status {
	if st := Status(s); st.Valid() {
		return st
	}
	return StatusOpen
}
