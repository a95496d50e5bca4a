package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// outcome labels for the advance metric.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeWaiting   = "waiting"
	outcomeOverflow  = "overflow"
	outcomeFinished  = "finished"
	outcomeSkipped   = "skipped"
)

// advanceOnce loads the instance, runs the step it is positioned on and
// persists the result before anything is scheduled.
func (e *Engine) advanceOnce(ctx context.Context, instanceID string) error {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			slog.WarnContext(ctx, "Instance not found, dropping advance", "instance_id", instanceID)
			return nil
		}
		return fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	if inst.IsTerminal() {
		slog.DebugContext(ctx, "Instance already terminal", "instance_id", instanceID, "status", inst.Status)
		e.metrics.Advance("", outcomeSkipped)
		return nil
	}

	expected := inst.Version

	next, overflow := e.guard.Check(inst)
	if overflow != nil {
		setCounter(inst, next)
		inst.Status = domain.StatusOverflow
		inst.ClearCurrentStep()
		if err := e.save(ctx, inst, expected); err != nil {
			return err
		}
		slog.WarnContext(ctx, "Instance stopped", "instance_id", instanceID, "error", overflow)
		e.metrics.Advance("", outcomeOverflow)
		e.metrics.InstanceTerminal(string(inst.Status))
		return nil
	}

	def, err := e.definitions.Get(ctx, inst.WorkflowID)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			slog.WarnContext(ctx, "Definition not found, dropping advance", "instance_id", instanceID, "workflow_id", inst.WorkflowID)
			return nil
		}
		return fmt.Errorf("load definition %s: %w", inst.WorkflowID, err)
	}

	step, ok := def.FindStep(inst.CurrentStep.String)
	if !inst.CurrentStep.Valid || !ok {
		slog.InfoContext(ctx, "No current step, completing instance", "instance_id", instanceID, "current_step", inst.CurrentStep.String)
		inst.Status = domain.StatusCompleted
		if err := e.save(ctx, inst, expected); err != nil {
			return err
		}
		e.metrics.Advance("", outcomeFinished)
		e.metrics.InstanceTerminal(string(inst.Status))
		return nil
	}

	// counter is stored before the step runs; a crash mid-step still counts
	setCounter(inst, next)
	if err := e.save(ctx, inst, expected); err != nil {
		return err
	}
	expected = inst.Version
	slog.InfoContext(ctx, "Advancing instance", "instance_id", instanceID, "step", step.StepID(), "step_type", step.Type(), "counter", next)

	switch s := step.(type) {
	case *domain.ActionStep:
		return e.runAction(ctx, inst, expected, s)
	case *domain.WaitForStep:
		return e.runWait(ctx, inst, expected, s, s.Next, e.waits.FromDuration(s.Unit, s.Value))
	case *domain.WaitUntilStep:
		return e.runWait(ctx, inst, expected, s, s.Next, e.waits.FromTimestamp(s.Until))
	case *domain.ConditionStep:
		return e.runCondition(ctx, inst, expected, s)
	default:
		msg := fmt.Sprintf("%v: %s", ErrUnknownStepType, step.Type())
		return e.fail(ctx, inst, expected, step, msg)
	}
}

func (e *Engine) runAction(ctx context.Context, inst *domain.WorkflowInstance, expected int64, s *domain.ActionStep) error {
	if inst.Context == nil {
		inst.Context = make(map[string]any)
	}
	if err := e.executor.Execute(ctx, s.ActionType, s.Endpoint, inst.Context); err != nil {
		actionErr := &ActionExecutionError{StepID: s.ID, ActionType: s.ActionType, Err: err}
		return e.fail(ctx, inst, expected, s, actionErr.Error())
	}

	inst.AppendLog(s.ID, domain.LogCompleted, e.clock.Now(), "")
	nextID := domain.First(s.Next)
	if nextID == "" {
		// current_step stays on the finished action.
		return e.finish(ctx, inst, expected, s, outcomeCompleted)
	}
	inst.SetCurrentStep(nextID)
	if err := e.save(ctx, inst, expected); err != nil {
		return err
	}
	e.metrics.Advance(string(s.Type()), outcomeCompleted)
	return e.scheduleNow(ctx, inst.ID)
}

func (e *Engine) runWait(ctx context.Context, inst *domain.WorkflowInstance, expected int64, s domain.Step, successors []string, at time.Time) error {
	inst.AppendLog(s.StepID(), domain.LogWaiting, e.clock.Now(), "")
	nextID := domain.First(successors)
	if nextID == "" {
		inst.ClearCurrentStep()
		return e.finish(ctx, inst, expected, s, outcomeWaiting)
	}
	inst.SetCurrentStep(nextID)
	if err := e.save(ctx, inst, expected); err != nil {
		return err
	}
	e.metrics.Advance(string(s.Type()), outcomeWaiting)
	slog.InfoContext(ctx, "Instance waiting", "instance_id", inst.ID, "step", s.StepID(), "until", at)
	if err := e.scheduler.ScheduleAt(ctx, at, inst.ID); err != nil {
		return fmt.Errorf("schedule instance %s at %s: %w", inst.ID, at, err)
	}
	return nil
}

func (e *Engine) runCondition(ctx context.Context, inst *domain.WorkflowInstance, expected int64, s *domain.ConditionStep) error {
	var (
		result bool
		note   string
	)
	record, err := e.resolver.Resolve(ctx, inst)
	if err != nil {
		note = fmt.Sprintf("subject resolution failed: %v", err)
	} else {
		result, err = Evaluate(record, s.Condition)
		if err != nil {
			note = err.Error()
		}
	}
	if note != "" {
		e.metrics.ConditionNote()
		slog.WarnContext(ctx, "Condition evaluated with a note", "instance_id", inst.ID, "step", s.ID, "note", note)
	}

	inst.AppendLog(s.ID, domain.LogCompleted, e.clock.Now(), note)

	var nextID string
	switch {
	case result && len(s.TrueNext) > 0:
		nextID = s.TrueNext[0]
	case len(s.FalseNext) > 0:
		nextID = s.FalseNext[0]
	}
	if nextID == "" {
		inst.ClearCurrentStep()
		return e.finish(ctx, inst, expected, s, outcomeCompleted)
	}
	inst.SetCurrentStep(nextID)
	if err := e.save(ctx, inst, expected); err != nil {
		return err
	}
	e.metrics.Advance(string(s.Type()), outcomeCompleted)
	return e.scheduleNow(ctx, inst.ID)
}

func (e *Engine) fail(ctx context.Context, inst *domain.WorkflowInstance, expected int64, s domain.Step, message string) error {
	inst.AppendLog(s.StepID(), domain.LogFailed, e.clock.Now(), message)
	inst.Status = domain.StatusFailed
	if err := e.save(ctx, inst, expected); err != nil {
		return err
	}
	slog.ErrorContext(ctx, "Instance failed", "instance_id", inst.ID, "step", s.StepID(), "error", message)
	e.metrics.Advance(string(s.Type()), outcomeFailed)
	e.metrics.InstanceTerminal(string(inst.Status))
	return nil
}

func (e *Engine) finish(ctx context.Context, inst *domain.WorkflowInstance, expected int64, s domain.Step, outcome string) error {
	inst.Status = domain.StatusCompleted
	if err := e.save(ctx, inst, expected); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Instance completed", "instance_id", inst.ID, "step", s.StepID())
	e.metrics.Advance(string(s.Type()), outcome)
	e.metrics.InstanceTerminal(string(inst.Status))
	return nil
}

func (e *Engine) save(ctx context.Context, inst *domain.WorkflowInstance, expected int64) error {
	inst.Modified = e.clock.Now()
	if err := e.instances.Save(ctx, inst, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	return nil
}

func (e *Engine) scheduleNow(ctx context.Context, instanceID string) error {
	if err := e.scheduler.ScheduleNow(ctx, instanceID); err != nil {
		return fmt.Errorf("schedule instance %s: %w", instanceID, err)
	}
	return nil
}
