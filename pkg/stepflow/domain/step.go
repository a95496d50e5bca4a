package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
	StepTypeWaitFor   StepType = "wait_for"
	StepTypeWaitUntil StepType = "wait_until"
)

type ActionType string

const (
	ActionAPICall  ActionType = "API_CALL"
	ActionEmail    ActionType = "EMAIL"
	ActionDBUpdate ActionType = "DB_UPDATE"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionAPICall, ActionEmail, ActionDBUpdate:
		return true
	}
	return false
}

type WaitUnit string

const (
	WaitSeconds WaitUnit = "seconds"
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
)

func (u WaitUnit) Valid() bool {
	switch u {
	case WaitSeconds, WaitMinutes, WaitHours, WaitDays:
		return true
	}
	return false
}

// Millis is the length of one unit in milliseconds, 0 for unknown units.
func (u WaitUnit) Millis() int64 {
	switch u {
	case WaitSeconds:
		return 1000
	case WaitMinutes:
		return 60 * 1000
	case WaitHours:
		return 60 * 60 * 1000
	case WaitDays:
		return 24 * 60 * 60 * 1000
	}
	return 0
}

// MaxWait is the longest wait_for a definition may declare.
const MaxWait = 100 * 365 * 24 * time.Hour

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpNotContains,
		OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// Step is one node of a workflow graph. The concrete types are ActionStep,
// WaitForStep, WaitUntilStep, ConditionStep and UnknownStep.
type Step interface {
	StepID() string
	Type() StepType
	// Successors lists every step id this step may hand over to.
	Successors() []string
}

// Condition is the predicate evaluated by a condition step.
type Condition struct {
	Operator Operator
	Field    string
	Value    any
}

type ActionStep struct {
	ID         string
	ActionType ActionType
	Endpoint   string
	Next       []string
	Data       map[string]any
}

type WaitForStep struct {
	ID    string
	Unit  WaitUnit
	Value float64
	Next  []string
	Data  map[string]any
}

type WaitUntilStep struct {
	ID    string
	Until time.Time
	Next  []string
	Data  map[string]any
}

type ConditionStep struct {
	ID        string
	Condition Condition
	TrueNext  []string
	FalseNext []string
	Data      map[string]any
}

// UnknownStep stands in for a stored step whose type this build does not know.
// Validate rejects it, so it can only come from data written elsewhere.
type UnknownStep struct {
	ID      string
	RawType string
}

func (s *ActionStep) StepID() string    { return s.ID }
func (s *WaitForStep) StepID() string   { return s.ID }
func (s *WaitUntilStep) StepID() string { return s.ID }
func (s *ConditionStep) StepID() string { return s.ID }
func (s *UnknownStep) StepID() string   { return s.ID }

func (s *ActionStep) Type() StepType    { return StepTypeAction }
func (s *WaitForStep) Type() StepType   { return StepTypeWaitFor }
func (s *WaitUntilStep) Type() StepType { return StepTypeWaitUntil }
func (s *ConditionStep) Type() StepType { return StepTypeCondition }
func (s *UnknownStep) Type() StepType   { return StepType(s.RawType) }

func (s *ActionStep) Successors() []string    { return s.Next }
func (s *WaitForStep) Successors() []string   { return s.Next }
func (s *WaitUntilStep) Successors() []string { return s.Next }
func (s *ConditionStep) Successors() []string {
	return append(append([]string{}, s.TrueNext...), s.FalseNext...)
}
func (s *UnknownStep) Successors() []string { return nil }

// First returns the successor that is actually followed. Only the head of a
// successor list is ever used; an empty list or empty id means terminal.
func First(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return strings.TrimSpace(ids[0])
}

var (
	ErrMissingStepID     = errors.New("step id is required")
	ErrInvalidActionType = errors.New("invalid action type")
	ErrInvalidWaitUnit   = errors.New("invalid wait unit")
	ErrInvalidWaitValue  = errors.New("wait value must not be negative")
	ErrWaitTooLong       = errors.New("wait exceeds 100 years")
	ErrMissingWaitUntil  = errors.New("wait_until timestamp is required")
	ErrInvalidOperator   = errors.New("invalid condition operator")
	ErrMissingField      = errors.New("condition field is required")
	ErrUnknownStepType   = errors.New("unknown step type")
)

func NewActionStep(id string, actionType ActionType, endpoint string, next ...string) (*ActionStep, error) {
	s := &ActionStep{ID: id, ActionType: actionType, Endpoint: endpoint, Next: next}
	return s, s.validate()
}

func NewWaitForStep(id string, unit WaitUnit, value float64, next ...string) (*WaitForStep, error) {
	s := &WaitForStep{ID: id, Unit: unit, Value: value, Next: next}
	return s, s.validate()
}

func NewWaitUntilStep(id string, until time.Time, next ...string) (*WaitUntilStep, error) {
	s := &WaitUntilStep{ID: id, Until: until, Next: next}
	return s, s.validate()
}

func NewConditionStep(id string, cond Condition, trueNext, falseNext []string) (*ConditionStep, error) {
	s := &ConditionStep{ID: id, Condition: cond, TrueNext: trueNext, FalseNext: falseNext}
	return s, s.validate()
}

func (s *ActionStep) validate() error {
	if s.ID == "" {
		return ErrMissingStepID
	}
	if !s.ActionType.Valid() {
		return fmt.Errorf("step %s: %w: %q", s.ID, ErrInvalidActionType, s.ActionType)
	}
	return nil
}

func (s *WaitForStep) validate() error {
	if s.ID == "" {
		return ErrMissingStepID
	}
	if !s.Unit.Valid() {
		return fmt.Errorf("step %s: %w: %q", s.ID, ErrInvalidWaitUnit, s.Unit)
	}
	if s.Value < 0 {
		return fmt.Errorf("step %s: %w", s.ID, ErrInvalidWaitValue)
	}
	if s.Value*float64(s.Unit.Millis()) > float64(MaxWait.Milliseconds()) {
		return fmt.Errorf("step %s: %w: %v %s", s.ID, ErrWaitTooLong, s.Value, s.Unit)
	}
	return nil
}

func (s *WaitUntilStep) validate() error {
	if s.ID == "" {
		return ErrMissingStepID
	}
	if s.Until.IsZero() {
		return fmt.Errorf("step %s: %w", s.ID, ErrMissingWaitUntil)
	}
	return nil
}

func (s *ConditionStep) validate() error {
	if s.ID == "" {
		return ErrMissingStepID
	}
	if !s.Condition.Operator.Valid() {
		return fmt.Errorf("step %s: %w: %q", s.ID, ErrInvalidOperator, s.Condition.Operator)
	}
	if s.Condition.Field == "" {
		return fmt.Errorf("step %s: %w", s.ID, ErrMissingField)
	}
	return nil
}

func (s *UnknownStep) validate() error {
	return fmt.Errorf("step %s: %w: %q", s.ID, ErrUnknownStepType, s.RawType)
}

// validateStep runs the per-variant rules.
func validateStep(s Step) error {
	switch v := s.(type) {
	case *ActionStep:
		return v.validate()
	case *WaitForStep:
		return v.validate()
	case *WaitUntilStep:
		return v.validate()
	case *ConditionStep:
		return v.validate()
	case *UnknownStep:
		return v.validate()
	case nil:
		return ErrMissingStepID
	}
	return fmt.Errorf("%w: %T", ErrUnknownStepType, s)
}
