// Package api provides HTTP handlers and routing for the goalflow service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/internal/config"
	"github.com/flexinfer/goalflow/internal/engine"
	"github.com/flexinfer/goalflow/internal/planner"
	"github.com/flexinfer/goalflow/internal/runstore"
	"github.com/flexinfer/goalflow/internal/validator"
	"github.com/flexinfer/goalflow/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store     runstore.RunStore
	service   *engine.Service
	planner   *planner.Planner
	catalog   *catalog.Catalog
	validator *validator.Validator
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store runstore.RunStore, svc *engine.Service, p *planner.Planner, cat *catalog.Catalog, v *validator.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:     store,
		service:   svc,
		planner:   p,
		catalog:   cat,
		validator: v,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "runstore unhealthy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"runstore": info,
	})
}

// --- Catalog ---

// ListActions handles GET /api/v1/actions
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"actions": h.catalog.Actions(),
		"agents":  h.catalog.AgentIDs(),
	})
}

// --- Planning ---

// RunRequest is the request body for plan and run creation. Start and goal
// are partial states over the catalog's schema.
type RunRequest struct {
	Name  string        `json:"name,omitempty"`
	Start types.Partial `json:"start,omitempty"`
	Goal  types.Partial `json:"goal"`
}

// decodeRunRequest validates and decodes the shared request shape.
func (h *Handlers) decodeRunRequest(w http.ResponseWriter, r *http.Request) (*RunRequest, types.State, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "read request body", err)
		return nil, types.State{}, false
	}

	if result := h.validator.ValidateRunRequestJSON(body); !result.Valid {
		writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request", map[string]any{
			"validation_errors": result.Errors,
		})
		return nil, types.State{}, false
	}

	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "decode request", err)
		return nil, types.State{}, false
	}

	schema := h.catalog.Schema()
	if err := schema.Check(req.Start); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid start state", err)
		return nil, types.State{}, false
	}
	if err := schema.Check(req.Goal); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid goal", err)
		return nil, types.State{}, false
	}

	start, err := types.NewState(schema, req.Start)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid start state", err)
		return nil, types.State{}, false
	}
	return &req, start, true
}

// PlanResponse is the response body for a dry-run plan.
type PlanResponse struct {
	Plan        *types.Plan `json:"plan"`
	Cost        float64     `json:"cost"`
	Unreachable []string    `json:"unreachable_preconditions,omitempty"`
}

// CreatePlan handles POST /api/v1/plans, planning without execution.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req, start, ok := h.decodeRunRequest(w, r)
	if !ok {
		return
	}

	plan, err := h.planner.Plan(start, req.Goal)
	if err != nil {
		var perr *planner.PlanningError
		if errors.As(err, &perr) {
			writeErrorResponse(w, r, http.StatusUnprocessableEntity, ErrCodeBadRequest, perr.Error(), map[string]any{
				"reason":      perr.Reason,
				"unreachable": h.catalog.UnreachablePreconditions(start),
			})
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "planning failed", err)
		return
	}

	h.respondJSON(w, http.StatusOK, PlanResponse{Plan: plan, Cost: plan.TotalCost()})
}

// --- Run Management ---

// CreateRunResponse is the response body after creating a run.
type CreateRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	SSEURL string `json:"sse_url"`
}

// CreateRun handles POST /api/v1/runs, planning and executing asynchronously.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, start, ok := h.decodeRunRequest(w, r)
	if !ok {
		return
	}

	runID, err := h.service.StartRun(r.Context(), req.Name, start, req.Goal, nil)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "create run", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:  runID,
		Status: string(types.RunStatusQueued),
		SSEURL: "/api/v1/runs/" + runID + "/events",
	})
}

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ListRuns(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "list runs", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"runs": ids})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	meta, err := h.store.GetRunMeta(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, r, http.StatusNotFound, "run not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "get run", err)
		return
	}
	h.respondJSON(w, http.StatusOK, meta)
}

// GetTrace handles GET /api/v1/runs/{id}/trace
func (h *Handlers) GetTrace(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	trace, err := h.store.GetTrace(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, runstore.ErrRunNotFound):
			h.respondError(w, r, http.StatusNotFound, "run not found", err)
		case errors.Is(err, runstore.ErrTraceNotFound):
			h.respondError(w, r, http.StatusConflict, "trace not available yet", err)
		default:
			h.respondError(w, r, http.StatusInternalServerError, "get trace", err)
		}
		return
	}
	h.respondJSON(w, http.StatusOK, trace)
}

// CancelRun handles POST /api/v1/runs/{id}/cancel
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if err := h.service.CancelRun(r.Context(), runID); err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, r, http.StatusNotFound, "run not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "cancel run", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

// RunStoreInfo handles GET /api/v1/runstore/info
func (h *Handlers) RunStoreInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "runstore unhealthy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// --- Response helpers ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		h.logger.Warn(message,
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, nil)
}
