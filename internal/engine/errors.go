package engine

import (
	"errors"
	"fmt"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrInstanceNotFound   = errors.New("workflow instance not found")
	ErrVersionConflict    = errors.New("workflow instance version conflict")
	ErrUnknownStepType    = domain.ErrUnknownStepType
	ErrOverflowExceeded   = errors.New("workflow instance exceeded its counter limit")
	ErrEmptyDefinition    = errors.New("workflow definition has no steps")
)

// ConditionEvaluationError is the note recorded when a condition fails closed.
type ConditionEvaluationError struct {
	Operator domain.Operator
	Field    string
	Reason   string
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition %s on field %q evaluated false: %s", e.Operator, e.Field, e.Reason)
}

// ActionExecutionError wraps a failure reported by the action executor.
type ActionExecutionError struct {
	StepID     string
	ActionType domain.ActionType
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s at step %s failed: %v", e.ActionType, e.StepID, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }
