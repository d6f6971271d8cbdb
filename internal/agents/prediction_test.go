package agents

import (
	"math"
	"testing"

	"github.com/good-yellow-bee/incidentchain/internal/models"
)

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		name     string
		incident models.Incident
		want     string
	}{
		{
			"tag match",
			models.Incident{Title: "something odd", Tags: []string{"bruteforce"}},
			"auth",
		},
		{
			"title match",
			models.Incident{Title: "Outbound beacon detected"},
			"c2",
		},
		{
			"description match",
			models.Incident{Title: "anomaly", Description: "setuid binary executed"},
			"privesc",
		},
		{
			"case insensitive",
			models.Incident{Title: "RANSOMWARE outbreak"},
			"malware",
		},
		{
			"auth wins over later categories",
			models.Incident{Title: "login attack followed by data exfil"},
			"auth",
		},
		{
			"no match",
			models.Incident{Title: "printer jam", Description: "tray two again"},
			"unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryFor(&tt.incident); got != tt.want {
				t.Errorf("CategoryFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPredictionsForIncidentDeterministic(t *testing.T) {
	inc := &models.Incident{
		Title:    "Outbound beacon detected",
		Severity: models.SeverityHigh,
		Tags:     []string{"c2"},
	}

	first := PredictionsForIncident(inc)
	second := PredictionsForIncident(inc)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("prediction %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPredictionsForIncidentSeverityScaling(t *testing.T) {
	base := models.Incident{Title: "beacon to unknown host", Tags: []string{"c2"}}

	low := base
	low.Severity = models.SeverityLow
	high := base
	high.Severity = models.SeverityHigh

	lowPreds := PredictionsForIncident(&low)
	highPreds := PredictionsForIncident(&high)
	if len(lowPreds) == 0 || len(highPreds) == 0 {
		t.Fatal("expected predictions for c2 incidents")
	}
	if lowPreds[0].Confidence >= highPreds[0].Confidence {
		t.Errorf("low severity confidence %f not below high %f", lowPreds[0].Confidence, highPreds[0].Confidence)
	}

	// high severity leaves base confidence untouched
	if math.Abs(highPreds[0].Confidence-0.80) > 1e-9 {
		t.Errorf("high confidence = %f, want 0.80", highPreds[0].Confidence)
	}
}

func TestPredictionsForIncidentConfidenceCap(t *testing.T) {
	inc := &models.Incident{
		Title:    "mass egress observed",
		Severity: models.SeverityCritical,
		Tags:     []string{"exfil"},
	}

	for _, p := range PredictionsForIncident(inc) {
		if p.Confidence > 0.99 {
			t.Errorf("confidence %f exceeds cap for %s", p.Confidence, p.Category)
		}
	}
}

func TestPredictionsForIncidentUnknownCategory(t *testing.T) {
	inc := &models.Incident{Title: "printer jam", Severity: models.SeverityCritical}
	if preds := PredictionsForIncident(inc); preds != nil {
		t.Errorf("predictions = %v, want nil for unknown category", preds)
	}
}

func TestPredictionsForIncidentUnknownSeverityDefaultsToMediumScale(t *testing.T) {
	inc := &models.Incident{Title: "beacon", Tags: []string{"c2"}}

	preds := PredictionsForIncident(inc)
	if len(preds) == 0 {
		t.Fatal("expected predictions")
	}
	if math.Abs(preds[0].Confidence-0.80*0.8) > 1e-9 {
		t.Errorf("confidence = %f, want base scaled by 0.8", preds[0].Confidence)
	}
}
