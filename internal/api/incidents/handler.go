// Package incidents provides HTTP handlers for incident, chain, and streaming
// endpoints.
package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

type apiResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeConflict      = "CONFLICT"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

func jsonOK(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

// Config bounds handler behavior.
type Config struct {
	QueryTimeout       time.Duration
	StreamMaxDuration  time.Duration
	StreamPollInterval time.Duration
}

// Handler handles incident and chain endpoints.
type Handler struct {
	storage     storage.Storage
	service     *incidents.Service
	engine      *chain.Engine
	broadcaster *broadcast.Broadcaster
	config      Config
}

// NewHandler creates a new incidents handler.
func NewHandler(store storage.Storage, svc *incidents.Service, engine *chain.Engine, bc *broadcast.Broadcaster, cfg Config) *Handler {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.StreamMaxDuration == 0 {
		cfg.StreamMaxDuration = 30 * time.Minute
	}
	if cfg.StreamPollInterval == 0 {
		cfg.StreamPollInterval = 2 * time.Second
	}
	return &Handler{
		storage:     store,
		service:     svc,
		engine:      engine,
		broadcaster: bc,
		config:      cfg,
	}
}

func (h *Handler) queryCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.config.QueryTimeout)
}

// ListResponse wraps an incident listing with optional side panels.
type ListResponse struct {
	Incidents []*models.Incident      `json:"incidents"`
	Total     int64                   `json:"total"`
	ByStatus  map[models.Status]int64 `json:"by_status,omitempty"`
	Chain     []*models.ChainEntry    `json:"chain,omitempty"`
}

// List handles GET /api/v1/incidents.
// Optional params: statuses, severities, limit, chain=true, stats=true.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	q := r.URL.Query()

	filter, err := parseIncidentFilter(q)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	list, err := h.service.List(ctx, filter)
	if err != nil {
		log.Printf("incident list failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list incidents")
		return
	}

	resp := &ListResponse{Incidents: list}
	if resp.Incidents == nil {
		resp.Incidents = []*models.Incident{}
	}

	total, err := h.storage.Incidents().Count(ctx)
	if err != nil {
		log.Printf("incident count failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list incidents")
		return
	}
	resp.Total = total

	if parseBool(q.Get("stats")) {
		byStatus, err := h.storage.Incidents().CountByStatus(ctx)
		if err != nil {
			log.Printf("incident status counts failed: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list incidents")
			return
		}
		resp.ByStatus = byStatus
	}

	if parseBool(q.Get("chain")) {
		entries, err := h.storage.Chain().List(ctx, &storage.ChainFilter{Limit: defaultChainLimit})
		if err != nil {
			log.Printf("chain list failed: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list incidents")
			return
		}
		resp.Chain = entries
	}

	jsonOK(w, resp)
}

// CreateRequest is the request body for incident creation.
type CreateRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    string          `json:"severity"`
	Status      string          `json:"status"`
	AssignedTo  string          `json:"assigned_to"`
	Tags        []string        `json:"tags"`
	Reporter    models.Reporter `json:"reporter"`
}

// Create handles POST /api/v1/incidents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := validateCreate(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	ctx, cancel := h.queryCtx(r)
	defer cancel()

	inc, err := h.service.Create(ctx, incidents.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    models.Severity(req.Severity),
		Status:      models.Status(req.Status),
		AssignedTo:  req.AssignedTo,
		Tags:        req.Tags,
		Reporter:    req.Reporter,
	})
	if err != nil {
		if errors.Is(err, incidents.ErrInvalidInput) {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
			return
		}
		log.Printf("incident create failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to create incident")
		return
	}

	jsonStatus(w, http.StatusCreated, inc)
}

// UpdateRequest is the request body for incident updates. Absent fields are
// left unchanged.
type UpdateRequest struct {
	ID         string          `json:"id"`
	Status     *string         `json:"status"`
	Severity   *string         `json:"severity"`
	AssignedTo *string         `json:"assigned_to"`
	Tags       []string        `json:"tags"`
	Note       string          `json:"note"`
	Reporter   models.Reporter `json:"reporter"`
}

// Update handles PATCH /api/v1/incidents.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if req.ID == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "id required")
		return
	}

	patch, err := buildUpdateInput(&req)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	ctx, cancel := h.queryCtx(r)
	defer cancel()

	inc, err := h.service.Update(ctx, req.ID, patch)
	if err != nil {
		switch {
		case errors.Is(err, incidents.ErrNotFound):
			jsonError(w, http.StatusNotFound, errCodeNotFound, "incident not found")
		case errors.Is(err, incidents.ErrInvalidInput):
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		default:
			log.Printf("incident update failed: %v", err)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to update incident")
		}
		return
	}

	jsonOK(w, inc)
}

// TestRequest is the request body for the synthetic incident generator.
type TestRequest struct {
	Type            string `json:"incident_type"`
	Count           int    `json:"count"`
	WithChain       bool   `json:"with_chain"`
	WithResolutions bool   `json:"with_resolutions"`
}

// GenerateTest handles POST /api/v1/incidents/test.
func (h *Handler) GenerateTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx, cancel := h.queryCtx(r)
	defer cancel()

	result, err := h.service.GenerateTestIncidents(ctx, incidents.TestGenInput{
		Type:            req.Type,
		Count:           req.Count,
		WithChain:       req.WithChain,
		WithResolutions: req.WithResolutions,
	})
	if err != nil {
		if errors.Is(err, incidents.ErrInvalidInput) {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
			return
		}
		log.Printf("test generation failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to generate incidents")
		return
	}

	jsonStatus(w, http.StatusCreated, result)
}
