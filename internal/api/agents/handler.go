// Package agents provides HTTP handlers for the security agent endpoints.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/agents"
	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeInternalError = "INTERNAL_ERROR"

	defaultListLimit = 50
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// Handler handles agent status and invocation endpoints.
type Handler struct {
	storage      storage.Storage
	runner       *agents.Runner
	broadcaster  *broadcast.Broadcaster
	queryTimeout time.Duration
}

// NewHandler creates a new agents handler.
func NewHandler(store storage.Storage, runner *agents.Runner, bc *broadcast.Broadcaster, queryTimeout time.Duration) *Handler {
	if queryTimeout == 0 {
		queryTimeout = 10 * time.Second
	}
	return &Handler{
		storage:      store,
		runner:       runner,
		broadcaster:  bc,
		queryTimeout: queryTimeout,
	}
}

// Get handles GET /api/v1/security/agents. The action parameter selects the
// view: status (default), activity, runs, resolutions, predictions.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "", "status":
		h.status(w, r)
	case "activity":
		h.activity(w, r)
	case "runs":
		h.runs(w, r)
	case "resolutions":
		h.resolutions(w, r)
	case "predictions":
		h.predictions(w, r)
	default:
		jsonError(w, http.StatusBadRequest, errCodeBadRequest,
			"action must be status, activity, runs, resolutions, or predictions")
	}
}

// AgentStatus summarizes one known agent.
type AgentStatus struct {
	AgentID   string           `json:"agent_id"`
	LastRun   *models.AgentRun `json:"last_run,omitempty"`
	TotalRuns int              `json:"total_runs"`
}

// StatusResponse is the status view payload.
type StatusResponse struct {
	Agents        []*AgentStatus          `json:"agents"`
	OpenIncidents int64                   `json:"open_incidents"`
	ByStatus      map[models.Status]int64 `json:"incidents_by_status"`
	Subscribers   int                     `json:"stream_subscribers"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	byStatus, err := h.storage.Incidents().CountByStatus(ctx)
	if err != nil {
		log.Printf("agent status failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load agent status")
		return
	}

	resp := &StatusResponse{
		ByStatus:      byStatus,
		OpenIncidents: byStatus[models.StatusOpen] + byStatus[models.StatusInvestigating],
	}
	if h.broadcaster != nil {
		resp.Subscribers = h.broadcaster.Subscribers()
	}

	for _, agentID := range []string{agents.AgentPredictor, agents.AgentResolver} {
		runs, err := h.storage.Agents().ListRuns(ctx, agentID, defaultListLimit)
		if err != nil {
			log.Printf("agent status runs failed: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load agent status")
			return
		}
		status := &AgentStatus{AgentID: agentID, TotalRuns: len(runs)}
		if len(runs) > 0 {
			status.LastRun = runs[0]
		}
		resp.Agents = append(resp.Agents, status)
	}

	jsonOK(w, resp)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	var agentIDs []string
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		agentIDs = []string{agentID}
	}

	activity, err := h.storage.Agents().ListActivity(ctx, agentIDs, limit)
	if err != nil {
		log.Printf("agent activity failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list activity")
		return
	}
	if activity == nil {
		activity = []*models.AgentActivity{}
	}

	jsonOK(w, map[string]any{"activity": activity, "count": len(activity)})
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	h.listRuns(w, r, r.URL.Query().Get("agent_id"))
}

func (h *Handler) resolutions(w http.ResponseWriter, r *http.Request) {
	h.listRuns(w, r, agents.AgentResolver)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request, agentID string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	runs, err := h.storage.Agents().ListRuns(ctx, agentID, limit)
	if err != nil {
		log.Printf("agent runs failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.AgentRun{}
	}

	jsonOK(w, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *Handler) predictions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	incidentID := r.URL.Query().Get("incident_id")
	if incidentID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "incident_id required")
		return
	}

	inc, err := h.storage.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "incident not found")
			return
		}
		log.Printf("prediction lookup failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to compute predictions")
		return
	}

	predictions := agents.PredictionsForIncident(inc)
	if predictions == nil {
		predictions = []agents.Prediction{}
	}

	jsonOK(w, map[string]any{
		"incident_id": inc.ID,
		"category":    agents.CategoryFor(inc),
		"predictions": predictions,
	})
}

// RunRequest is the request body for agent invocations.
type RunRequest struct {
	Action     string `json:"action"`
	IncidentID string `json:"incident_id"`
	Limit      int    `json:"limit"`
	Count      int    `json:"count"`
}

// Post handles POST /api/v1/security/agents. The action field selects the
// invocation: run_resolution, run_batch_resolution, run_prediction,
// simulate_agent_activity.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 4*h.queryTimeout)
	defer cancel()

	switch req.Action {
	case "run_resolution":
		if req.IncidentID == "" {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "incident_id required")
			return
		}
		result, err := h.runner.RunResolution(ctx, req.IncidentID, models.RunManual)
		if err != nil {
			h.runError(w, err, "resolution run failed")
			return
		}
		jsonOK(w, result)

	case "run_batch_resolution":
		result, err := h.runner.RunBatchResolution(ctx, req.Limit, models.RunManual)
		if err != nil {
			h.runError(w, err, "batch resolution run failed")
			return
		}
		jsonOK(w, result)

	case "run_prediction":
		if req.IncidentID == "" {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "incident_id required")
			return
		}
		predictions, err := h.runner.RunPrediction(ctx, req.IncidentID, models.RunManual)
		if err != nil {
			h.runError(w, err, "prediction run failed")
			return
		}
		jsonOK(w, map[string]any{"predictions": predictions, "count": len(predictions)})

	case "simulate_agent_activity":
		created := h.runner.SimulateActivity(ctx, req.Count)
		jsonOK(w, map[string]any{"created": created})

	default:
		jsonError(w, http.StatusBadRequest, errCodeBadRequest,
			"action must be run_resolution, run_batch_resolution, run_prediction, or simulate_agent_activity")
	}
}

func (h *Handler) runError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, storage.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "incident not found")
		return
	}
	log.Printf("%s: %v", fallback, err)
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, fallback)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > 500 {
		n = 500
	}
	return n, nil
}
