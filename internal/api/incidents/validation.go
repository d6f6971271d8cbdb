package incidents

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

const (
	maxListLimit      = 500
	defaultChainLimit = 50
	maxTitleLength    = 500
	maxBodyLength     = 10000
)

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(s string) bool {
	return strings.EqualFold(s, "true") || s == "1"
}

func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func parseSeverities(s string) ([]models.Severity, error) {
	if s == "" {
		return nil, nil
	}
	var out []models.Severity
	for _, part := range strings.Split(s, ",") {
		sev := models.Severity(strings.TrimSpace(strings.ToLower(part)))
		if !sev.Valid() {
			return nil, fmt.Errorf("unknown severity %q", part)
		}
		out = append(out, sev)
	}
	return out, nil
}

func parseStatuses(s string) ([]models.Status, error) {
	if s == "" {
		return nil, nil
	}
	var out []models.Status
	for _, part := range strings.Split(s, ",") {
		st := models.Status(strings.TrimSpace(strings.ToLower(part)))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

func parseIncidentFilter(q url.Values) (*storage.IncidentFilter, error) {
	statuses, err := parseStatuses(q.Get("statuses"))
	if err != nil {
		return nil, err
	}
	severities, err := parseSeverities(q.Get("severities"))
	if err != nil {
		return nil, err
	}
	limit, err := parseLimit(q.Get("limit"), 0)
	if err != nil {
		return nil, err
	}
	return &storage.IncidentFilter{
		Statuses:   statuses,
		Severities: severities,
		Limit:      limit,
	}, nil
}

func validateCreate(req *CreateRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(req.Title) > maxTitleLength {
		return fmt.Errorf("title must be at most %d characters", maxTitleLength)
	}
	if strings.TrimSpace(req.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if len(req.Description) > maxBodyLength {
		return fmt.Errorf("description must be at most %d characters", maxBodyLength)
	}
	if req.Severity != "" && !models.Severity(req.Severity).Valid() {
		return fmt.Errorf("unknown severity %q", req.Severity)
	}
	if req.Status != "" && !models.Status(req.Status).Valid() {
		return fmt.Errorf("unknown status %q", req.Status)
	}
	return nil
}

func buildUpdateInput(req *UpdateRequest) (incidents.UpdateInput, error) {
	patch := incidents.UpdateInput{
		Tags:     req.Tags,
		Reporter: req.Reporter,
		Note:     req.Note,
	}
	if req.Status != nil {
		st := models.Status(strings.ToLower(*req.Status))
		if !st.Valid() {
			return patch, fmt.Errorf("unknown status %q", *req.Status)
		}
		patch.Status = &st
	}
	if req.Severity != nil {
		sev := models.Severity(strings.ToLower(*req.Severity))
		if !sev.Valid() {
			return patch, fmt.Errorf("unknown severity %q", *req.Severity)
		}
		patch.Severity = &sev
	}
	patch.AssignedTo = req.AssignedTo
	if len(req.Note) > maxBodyLength {
		return patch, fmt.Errorf("note must be at most %d characters", maxBodyLength)
	}
	return patch, nil
}
