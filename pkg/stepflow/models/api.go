package models

import (
	"time"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// CreateWorkflowResponse is returned when a definition is stored.
type CreateWorkflowResponse struct {
	ID string `json:"id"`
}

// StartWorkflowResponse is returned when an instance is started.
type StartWorkflowResponse struct {
	Message  string                   `json:"message"`
	Instance WorkflowInstanceResponse `json:"instance"`
}

// WorkflowInstanceResponse represents the API response for an instance.
type WorkflowInstanceResponse struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflow_id"`
	Status      string            `json:"status"`
	CurrentStep *string           `json:"current_step"`
	Context     map[string]any    `json:"context"`
	Logs        []domain.LogEntry `json:"logs"`
	Version     int64             `json:"version"`
	Created     time.Time         `json:"created"`
	Modified    time.Time         `json:"modified"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ToInstanceResponse maps a stored instance onto its API shape.
func ToInstanceResponse(inst *domain.WorkflowInstance) WorkflowInstanceResponse {
	resp := WorkflowInstanceResponse{
		ID:         inst.ID,
		WorkflowID: inst.WorkflowID,
		Status:     string(inst.Status),
		Context:    inst.Context,
		Logs:       inst.Logs,
		Version:    inst.Version,
		Created:    inst.Created,
		Modified:   inst.Modified,
	}
	if inst.CurrentStep.Valid {
		step := inst.CurrentStep.String
		resp.CurrentStep = &step
	}
	if resp.Logs == nil {
		resp.Logs = []domain.LogEntry{}
	}
	return resp
}
