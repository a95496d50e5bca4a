package domain

import (
	"errors"
	"fmt"
	"time"
)

type TriggerType string

const TriggerAPICall TriggerType = "API_CALL"

type Trigger struct {
	ID   string         `json:"id" yaml:"id"`
	Type TriggerType    `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Edge is editor metadata; execution never reads it.
type Edge struct {
	ID       string `json:"id" yaml:"id"`
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Animated bool   `json:"animated,omitempty" yaml:"animated,omitempty"`
}

type WorkflowDefinition struct {
	ID      string    `json:"id" yaml:"id"`
	Name    string    `json:"name" yaml:"name"`
	Trigger Trigger   `json:"trigger" yaml:"trigger"`
	Steps   StepList  `json:"steps" yaml:"steps"`
	Edges   []Edge    `json:"edges,omitempty" yaml:"edges,omitempty"`
	Created time.Time `json:"created" yaml:"-"`
	Updated time.Time `json:"updated" yaml:"-"`
}

var (
	ErrMissingName     = errors.New("workflow name is required")
	ErrNoSteps         = errors.New("workflow must have at least one step")
	ErrDuplicateStepID = errors.New("duplicate step id")
	ErrUnknownNextStep = errors.New("successor references unknown step")
)

// FindStep returns the step with the given id.
func (d *WorkflowDefinition) FindStep(id string) (Step, bool) {
	if id == "" {
		return nil, false
	}
	for _, s := range d.Steps {
		if s != nil && s.StepID() == id {
			return s, true
		}
	}
	return nil, false
}

// FirstStep is where every new instance starts.
func (d *WorkflowDefinition) FirstStep() (Step, bool) {
	if len(d.Steps) == 0 || d.Steps[0] == nil {
		return nil, false
	}
	return d.Steps[0], true
}

// Validate checks the whole graph and reports every problem it finds.
func (d *WorkflowDefinition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, ErrMissingName)
	}
	if len(d.Steps) == 0 {
		errs = append(errs, ErrNoSteps)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if err := validateStep(s); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[s.StepID()] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateStepID, s.StepID()))
		}
		seen[s.StepID()] = true
	}
	for _, s := range d.Steps {
		if s == nil {
			continue
		}
		for _, next := range s.Successors() {
			if next != "" && !seen[next] {
				errs = append(errs, fmt.Errorf("step %s: %w: %s", s.StepID(), ErrUnknownNextStep, next))
			}
		}
	}
	return errors.Join(errs...)
}
