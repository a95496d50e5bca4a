package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/metrics"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

const defaultConflictRetries = 5

// Engine owns every workflow instance once it has been started and moves it
// through its definition one step per Advance call.
type Engine struct {
	definitions     DefinitionStore
	instances       InstanceStore
	scheduler       Scheduler
	executor        ActionExecutor
	resolver        SubjectResolver
	waits           *WaitCalculator
	guard           OverflowGuard
	clock           core.Clock
	metrics         *metrics.Metrics
	conflictRetries int
}

type Option func(*Engine)

func WithClock(c core.Clock) Option {
	return func(e *Engine) { e.clock = core.OrReal(c) }
}

func WithSubjectResolver(r SubjectResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCounterLimit sets the counter_limit seeded into new instances and used
// when an instance carries none.
func WithCounterLimit(limit int64) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.guard.DefaultLimit = limit
		}
	}
}

// WithConflictRetries bounds how many times one Advance call reloads and
// retries after a version conflict.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.conflictRetries = n
		}
	}
}

func New(definitions DefinitionStore, instances InstanceStore, scheduler Scheduler, executor ActionExecutor, opts ...Option) *Engine {
	e := &Engine{
		definitions:     definitions,
		instances:       instances,
		scheduler:       scheduler,
		executor:        executor,
		resolver:        ContextSubjectResolver{},
		guard:           OverflowGuard{DefaultLimit: DefaultCounterLimit},
		clock:           core.RealClock{},
		conflictRetries: defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.waits = NewWaitCalculator(e.clock)
	return e
}

// Start creates an instance positioned on the definition's first step and
// schedules its first advance. initial is merged over the default context, so
// callers may override counter_limit.
func (e *Engine) Start(ctx context.Context, workflowID string, initial map[string]any) (string, error) {
	def, err := e.definitions.Get(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("start workflow %s: %w", workflowID, err)
	}
	first, ok := def.FirstStep()
	if !ok {
		return "", fmt.Errorf("start workflow %s: %w", workflowID, ErrEmptyDefinition)
	}

	vars := map[string]any{
		domain.ContextCounter:      int64(0),
		domain.ContextCounterLimit: e.guard.Limit(nil),
	}
	maps.Copy(vars, initial)

	now := e.clock.Now()
	inst := &domain.WorkflowInstance{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     domain.StatusInProgress,
		Context:    vars,
		Logs:       []domain.LogEntry{},
		Created:    now,
		Modified:   now,
	}
	inst.SetCurrentStep(first.StepID())

	id, err := e.instances.Create(ctx, inst)
	if err != nil {
		return "", fmt.Errorf("create instance for workflow %s: %w", workflowID, err)
	}
	e.metrics.InstanceStarted()
	slog.InfoContext(ctx, "Workflow instance created", "instance_id", id, "workflow_id", workflowID, "workflow_name", def.Name, "current_step", first.StepID())

	if err := e.scheduler.ScheduleNow(ctx, id); err != nil {
		schedErr := fmt.Errorf("schedule first advance of %s: %w", id, err)
		return id, e.abandon(ctx, inst, first, schedErr)
	}
	return id, nil
}

// abandon marks a freshly created instance FAILED when its first advance
// could not be scheduled, since nothing would ever pick it up.
func (e *Engine) abandon(ctx context.Context, inst *domain.WorkflowInstance, first domain.Step, cause error) error {
	inst.AppendLog(first.StepID(), domain.LogFailed, e.clock.Now(), cause.Error())
	inst.Status = domain.StatusFailed
	if err := e.save(ctx, inst, inst.Version); err != nil {
		slog.ErrorContext(ctx, "Could not fail unscheduled instance", "instance_id", inst.ID, "error", err)
		return errors.Join(cause, err)
	}
	slog.ErrorContext(ctx, "Instance failed before its first advance", "instance_id", inst.ID, "error", cause)
	e.metrics.InstanceTerminal(string(inst.Status))
	return cause
}

// Advance moves one instance forward by exactly one step. It is safe to call
// repeatedly and concurrently: terminal instances are left untouched and a
// concurrent writer causes a reload and retry. Returned errors are meant for
// the scheduler, which should redeliver.
func (e *Engine) Advance(ctx context.Context, instanceID string) error {
	started := time.Now()
	defer func() { e.metrics.ObserveAdvanceDuration(time.Since(started)) }()

	var err error
	for attempt := 1; attempt <= e.conflictRetries; attempt++ {
		err = e.advanceOnce(ctx, instanceID)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		e.metrics.VersionConflict()
		slog.WarnContext(ctx, "Instance changed while advancing, reloading", "instance_id", instanceID, "attempt", attempt)
	}
	return err
}
