package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

const maxInstanceLimit = 1000

type DefinitionRepo interface {
	Save(ctx context.Context, def *domain.WorkflowDefinition) (string, error)
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	FindAll(ctx context.Context) ([]*domain.WorkflowDefinition, error)
}

type InstanceRepo interface {
	Get(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	FindByWorkflowID(ctx context.Context, workflowID string, limit int) ([]*domain.WorkflowInstance, error)
}

// Starter is satisfied by *engine.Engine.
type Starter interface {
	Start(ctx context.Context, workflowID string, initial map[string]any) (string, error)
}

// WorkflowsController holds dependencies for workflow HTTP endpoints.
type WorkflowsController struct {
	Definitions DefinitionRepo
	Instances   InstanceRepo
	Engine      Starter
}

func NewWorkflowsController(definitions DefinitionRepo, instances InstanceRepo, eng Starter) *WorkflowsController {
	return &WorkflowsController{Definitions: definitions, Instances: instances, Engine: eng}
}

func (c *WorkflowsController) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := c.Definitions.FindAll(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list workflows", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	if defs == nil {
		defs = []*domain.WorkflowDefinition{}
	}
	util.WriteJSONResponse(w, http.StatusOK, defs)
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := decodeDefinition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// ids are assigned by the store on create
	def.ID = ""
	id, err := c.Definitions.Save(r.Context(), def)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to save workflow", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create workflow")
		return
	}
	slog.InfoContext(r.Context(), "Created workflow", "workflow_id", id, "name", def.Name)
	util.WriteJSONResponse(w, http.StatusCreated, models.CreateWorkflowResponse{ID: id})
}

func (c *WorkflowsController) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := c.Definitions.Get(r.Context(), id)
	if errors.Is(err, engine.ErrDefinitionNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load workflow", "workflow_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, def)
}

// handleUpdateWorkflow replaces the stored definition. Running instances pick
// up the new steps on their next advance.
func (c *WorkflowsController) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := c.Definitions.Get(r.Context(), id)
	if errors.Is(err, engine.ErrDefinitionNotFound) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load workflow", "workflow_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}

	def, err := decodeDefinition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def.ID = id
	def.Created = existing.Created
	if _, err := c.Definitions.Save(r.Context(), def); err != nil {
		slog.ErrorContext(r.Context(), "Failed to update workflow", "workflow_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update workflow")
		return
	}
	slog.InfoContext(r.Context(), "Updated workflow", "workflow_id", id)
	util.WriteJSONResponse(w, http.StatusOK, def)
}

func (c *WorkflowsController) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	initial := map[string]any{}
	if r.ContentLength != 0 {
		body, err := util.DecodeJSONBody[map[string]any](r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if body != nil {
			initial = body
		}
	}

	instanceID, err := c.Engine.Start(r.Context(), id, initial)
	switch {
	case errors.Is(err, engine.ErrDefinitionNotFound):
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	case errors.Is(err, engine.ErrEmptyDefinition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "Failed to start workflow", "workflow_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}

	inst, err := c.Instances.Get(r.Context(), instanceID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load started instance", "instance_id", instanceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load instance")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.StartWorkflowResponse{
		Message:  "Workflow started",
		Instance: models.ToInstanceResponse(inst),
	})
}

func (c *WorkflowsController) handleListInstances(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxInstanceLimit {
			writeError(w, http.StatusBadRequest, "limit cannot be greater than 1000")
			return
		}
		limit = n
	}

	instances, err := c.Instances.FindByWorkflowID(r.Context(), id, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list instances", "workflow_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list instances")
		return
	}
	out := make([]models.WorkflowInstanceResponse, 0, len(instances))
	for _, inst := range instances {
		out = append(out, models.ToInstanceResponse(inst))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *WorkflowsController) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, err := c.Instances.Get(r.Context(), id)
	if errors.Is(err, engine.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load instance", "instance_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load instance")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ToInstanceResponse(inst))
}

func decodeDefinition(r *http.Request) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, errors.New("invalid JSON payload")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	util.WriteJSONResponse(w, status, models.ErrorResponse{Error: msg})
}
