package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/botsmith-ai/workflow-engine/internal/config"
	"github.com/botsmith-ai/workflow-engine/internal/engine"
	"github.com/botsmith-ai/workflow-engine/internal/flowstore"
	"github.com/botsmith-ai/workflow-engine/internal/registry"
	"github.com/botsmith-ai/workflow-engine/internal/runstore"
	"github.com/botsmith-ai/workflow-engine/internal/validator"
	"github.com/botsmith-ai/workflow-engine/pkg/types"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store       runstore.RunStore
	flows       flowstore.Store
	agents      registry.Registry
	coordinator *engine.Coordinator
	validator   *validator.Validator
	config      *config.Config
	logger      *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store runstore.RunStore, flows flowstore.Store, agents registry.Registry, coord *engine.Coordinator, v *validator.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:       store,
		flows:       flows,
		agents:      agents,
		coordinator: coord,
		validator:   v,
		config:      cfg,
		logger:      logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "runstore unhealthy", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"runstore": info,
	})
}

// --- Workflow Execution ---

// ExecuteRequest is the request body for executing a workflow.
type ExecuteRequest struct {
	WorkflowConfig json.RawMessage `json:"workflowConfig,omitempty"`
	WorkflowID     string          `json:"workflowId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	TestMode       bool            `json:"testMode,omitempty"`
}

// ExecuteResponse is the response body after starting or completing a run.
type ExecuteResponse struct {
	RunID    string          `json:"runId"`
	Status   types.RunStatus `json:"status"`
	Logs     []types.StepLog `json:"logs"`
	Warnings []string        `json:"warnings,omitempty"`
	SSEURL   string          `json:"sse_url,omitempty"`
}

// ExecuteWorkflow handles POST /workflow/execute. Test-mode runs complete
// synchronously in the request; live runs return immediately with status
// running and are polled via GET /workflows/{runId}/logs.
func (h *Handlers) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ExecuteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	def, err := h.resolveDefinition(r, &req)
	if err != nil {
		h.respondValidation(w, err)
		return
	}

	wf, err := h.validator.Validate(def)
	if err != nil {
		h.respondValidation(w, err)
		return
	}

	if err := h.checkAgents(r, wf); err != nil {
		h.respondValidation(w, err)
		return
	}

	opts := engine.RunOptions{UserID: req.UserID, TestMode: req.TestMode}

	if req.TestMode {
		run, err := h.coordinator.ExecuteSync(ctx, wf, opts)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "failed to execute workflow", err)
			return
		}
		h.respondJSON(w, http.StatusOK, ExecuteResponse{
			RunID:    run.RunID,
			Status:   run.Status,
			Logs:     run.StepLogs,
			Warnings: run.Warnings,
		})
		return
	}

	run, err := h.coordinator.StartRun(ctx, wf, opts)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to start workflow", err)
		return
	}

	h.respondJSON(w, http.StatusOK, ExecuteResponse{
		RunID:  run.RunID,
		Status: run.Status,
		Logs:   run.StepLogs,
		SSEURL: "/workflows/" + run.RunID + "/events",
	})
}

// resolveDefinition extracts the definition from the request body or, when
// only a workflowId is given, loads it from the flow store.
func (h *Handlers) resolveDefinition(r *http.Request, req *ExecuteRequest) (*types.WorkflowDefinition, error) {
	if len(req.WorkflowConfig) > 0 {
		if err := h.validator.ValidateJSON(req.WorkflowConfig); err != nil {
			return nil, err
		}
		var def types.WorkflowDefinition
		if err := json.Unmarshal(req.WorkflowConfig, &def); err != nil {
			return nil, &validator.ValidationError{Issues: []validator.Issue{
				{Path: "workflowConfig", Message: fmt.Sprintf("invalid definition: %v", err)},
			}}
		}
		if def.ID == "" {
			def.ID = req.WorkflowID
		}
		return &def, nil
	}

	if req.WorkflowID == "" {
		return nil, &validator.ValidationError{Issues: []validator.Issue{
			{Path: "workflowConfig", Message: "workflowConfig or workflowId is required"},
		}}
	}

	saved, err := h.flows.Get(r.Context(), req.WorkflowID)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			return nil, &validator.ValidationError{Issues: []validator.Issue{
				{Path: "workflowId", Message: fmt.Sprintf("workflow %q not found", req.WorkflowID)},
			}}
		}
		return nil, err
	}
	return saved.Definition, nil
}

// checkAgents rejects agent-kind steps whose agent id is not registered.
func (h *Handlers) checkAgents(r *http.Request, wf *validator.CompiledWorkflow) error {
	if h.agents == nil {
		return nil
	}
	var issues []validator.Issue
	for _, step := range wf.Definition.Steps {
		if step.EffectiveKind() != types.StepKindAgent {
			continue
		}
		if step.AgentID == "" {
			issues = append(issues, validator.Issue{
				Path:    "steps." + step.ID + ".agentId",
				Message: "agent step requires an agentId",
			})
			continue
		}
		ok, err := h.agents.Has(r.Context(), step.AgentID)
		if err != nil {
			return err
		}
		if !ok {
			issues = append(issues, validator.Issue{
				Path:    "steps." + step.ID + ".agentId",
				Message: fmt.Sprintf("unknown agent id %q", step.AgentID),
			})
		}
	}
	if len(issues) > 0 {
		return &validator.ValidationError{Issues: issues}
	}
	return nil
}

// --- Run Polling & Management ---

// RunLogsResponse is the polling payload for a run.
type RunLogsResponse struct {
	RunID    string          `json:"runId"`
	Status   types.RunStatus `json:"status"`
	Steps    []types.StepLog `json:"steps"`
	Warnings []string        `json:"warnings,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// GetRunLogs handles GET /workflows/{runId}/logs.
func (h *Handlers) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["runId"]

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}

	h.respondJSON(w, http.StatusOK, RunLogsResponse{
		RunID:    run.RunID,
		Status:   run.Status,
		Steps:    run.StepLogs,
		Warnings: run.Warnings,
		Error:    run.Error,
	})
}

// ListRuns handles GET /runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runIDs, err := h.store.ListRuns(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runIDs})
}

// CancelRun handles POST /workflows/{runId}/cancel. Cancellation is
// cooperative: in-flight steps finish, no further tier starts.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["runId"]

	if err := h.coordinator.Cancel(ctx, runID); err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to cancel run", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"runId":  runID,
		"status": "cancelling",
	})
}

// --- Workflow Definitions ---

// SaveWorkflowRequest is the request body for saving a definition.
type SaveWorkflowRequest struct {
	WorkflowConfig json.RawMessage `json:"workflowConfig"`
	UserID         string          `json:"userId,omitempty"`
}

// SaveWorkflow handles POST /workflow/save. The definition is validated
// (including condition compilation) before persisting.
func (h *Handlers) SaveWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SaveWorkflowRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.WorkflowConfig) == 0 {
		h.respondError(w, http.StatusBadRequest, "workflowConfig is required", nil)
		return
	}

	if err := h.validator.ValidateJSON(req.WorkflowConfig); err != nil {
		h.respondValidation(w, err)
		return
	}
	var def types.WorkflowDefinition
	if err := json.Unmarshal(req.WorkflowConfig, &def); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid definition", err)
		return
	}
	if _, err := h.validator.Validate(&def); err != nil {
		h.respondValidation(w, err)
		return
	}
	if def.ID == "" {
		h.respondError(w, http.StatusBadRequest, "workflow id is required to save", nil)
		return
	}

	saved, err := h.flows.Save(ctx, &def, req.UserID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to save workflow", err)
		return
	}
	h.respondJSON(w, http.StatusOK, saved)
}

// ListWorkflows handles GET /workflows/saved.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	saved, err := h.flows.List(r.Context(), &flowstore.ListOptions{
		CreatedBy: r.URL.Query().Get("userId"),
	})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list workflows", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"workflows": saved})
}

// GetWorkflow handles GET /workflows/saved/{id}.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	saved, err := h.flows.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get workflow", err)
		return
	}
	h.respondJSON(w, http.StatusOK, saved)
}

// DeleteWorkflow handles DELETE /workflows/saved/{id}.
func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.flows.Delete(r.Context(), id); err != nil {
		if errors.Is(err, flowstore.ErrWorkflowNotFound) {
			h.respondError(w, http.StatusNotFound, "workflow not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to delete workflow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Agent Registry ---

// ListAgents handles GET /agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list agents", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

// RegisterAgent handles POST /agents.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var agent registry.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if agent.ID == "" {
		h.respondError(w, http.StatusBadRequest, "agent id is required", nil)
		return
	}

	if err := h.agents.Register(r.Context(), &agent); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to register agent", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, agent)
}

// --- Diagnostics ---

// RunStoreInfo handles GET /runstore/info.
func (h *Handlers) RunStoreInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get runstore info", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	h.logger.Error(message, "error", detail, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   message,
		"details": detail,
	})
}

// respondValidation maps validation failures to 400 with per-field issues;
// anything else is a 500.
func (h *Handlers) respondValidation(w http.ResponseWriter, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":  "validation failed",
			"issues": verr.Issues,
		})
		return
	}
	h.respondError(w, http.StatusInternalServerError, "validation error", err)
}
