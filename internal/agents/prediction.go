package agents

import (
	"strings"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

// Prediction is one predicted cascade target for an incident.
type Prediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// categoryKeywords maps incident text/tags to a category. First match wins,
// in this order.
var categoryOrder = []string{"auth", "c2", "exfil", "privesc", "malware", "network", "data", "host"}

var categoryKeywords = map[string][]string{
	"auth":    {"auth", "login", "credential", "password", "bruteforce"},
	"c2":      {"c2", "beacon", "command and control", "callback"},
	"exfil":   {"exfil", "egress", "upload", "leak"},
	"privesc": {"privesc", "privilege", "escalation", "setuid", "sudo"},
	"malware": {"malware", "dropper", "ransomware", "trojan", "virus"},
	"network": {"network", "scan", "port", "lateral"},
	"data":    {"data", "database", "record"},
	"host":    {"host", "endpoint", "process", "binary"},
}

// cascades maps a source category to its likely downstream categories. The
// base confidences are fixed; severity scales them.
var cascades = map[string][]Prediction{
	"auth":    {{Category: "lateral_movement", Confidence: 0.70, Rationale: "compromised credentials enable pivoting"}, {Category: "exfil", Confidence: 0.45, Rationale: "authenticated access reaches data stores"}},
	"c2":      {{Category: "exfil", Confidence: 0.80, Rationale: "established channel is typically used for staging data out"}, {Category: "malware", Confidence: 0.55, Rationale: "c2 channels deliver second-stage payloads"}},
	"exfil":   {{Category: "data_loss", Confidence: 0.85, Rationale: "active egress implies records already leaving"}},
	"privesc": {{Category: "persistence", Confidence: 0.65, Rationale: "elevated access is usually followed by persistence"}, {Category: "c2", Confidence: 0.40, Rationale: "root access enables implant installation"}},
	"malware": {{Category: "c2", Confidence: 0.60, Rationale: "droppers phone home"}, {Category: "lateral_movement", Confidence: 0.50, Rationale: "worm-capable payloads spread to peers"}},
	"network": {{Category: "auth", Confidence: 0.50, Rationale: "scanning precedes credential attacks"}},
	"data":    {{Category: "exfil", Confidence: 0.55, Rationale: "data-layer incidents precede egress attempts"}},
	"host":    {{Category: "privesc", Confidence: 0.45, Rationale: "host compromise is followed by privilege escalation"}},
}

// severityScale adjusts base confidences by incident severity.
var severityScale = map[models.Severity]float64{
	models.SeverityLow:      0.6,
	models.SeverityMedium:   0.8,
	models.SeverityHigh:     1.0,
	models.SeverityCritical: 1.1,
}

// CategoryFor infers an incident's category from its tags, title, and
// description. Deterministic for a given incident.
func CategoryFor(inc *models.Incident) string {
	text := strings.ToLower(inc.Title + " " + inc.Description + " " + strings.Join(inc.Tags, " "))
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(text, kw) {
				return cat
			}
		}
	}
	return "unknown"
}

// PredictionsForIncident returns cascade predictions for an incident. It is a
// pure function of the incident's own fields: no store, clock, or randomness.
func PredictionsForIncident(inc *models.Incident) []Prediction {
	category := CategoryFor(inc)
	base, ok := cascades[category]
	if !ok {
		return nil
	}

	scale := severityScale[inc.Severity]
	if scale == 0 {
		scale = 0.8
	}

	predictions := make([]Prediction, 0, len(base))
	for _, p := range base {
		confidence := p.Confidence * scale
		if confidence > 0.99 {
			confidence = 0.99
		}
		predictions = append(predictions, Prediction{
			Category:   p.Category,
			Confidence: confidence,
			Rationale:  p.Rationale,
		})
	}
	return predictions
}
