package models

import "time"

// RelationshipType classifies a causality edge between two incidents.
type RelationshipType string

const (
	RelCauses    RelationshipType = "causes"
	RelCausedBy  RelationshipType = "caused_by"
	RelRelated   RelationshipType = "related"
	RelPrevented RelationshipType = "prevented"
)

// Valid reports whether r is a known relationship type.
func (r RelationshipType) Valid() bool {
	switch r {
	case RelCauses, RelCausedBy, RelRelated, RelPrevented:
		return true
	}
	return false
}

// CausalityLink is a directed edge between two incidents, used to build
// cascade graphs. Links that would introduce a cycle are rejected at creation.
type CausalityLink struct {
	ID               string           `json:"id"`
	SourceIncidentID string           `json:"source_incident_id"`
	TargetIncidentID string           `json:"target_incident_id"`
	Relationship     RelationshipType `json:"relationship_type"`
	Confidence       float64          `json:"confidence"`
	PredictedBy      string           `json:"predicted_by,omitempty"`
	Prevented        bool             `json:"prevented"`
	PreventedBy      string           `json:"prevented_by,omitempty"`
	PreventedAt      *time.Time       `json:"prevented_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}
