package engine

import (
	"context"
	"time"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// DefinitionStore is the read side of workflow definitions, satisfied by
// repository.WorkflowDefinitionRepository.
type DefinitionStore interface {
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
}

// InstanceStore persists instances. Save must fail with ErrVersionConflict
// when the stored version differs from expectedVersion, and must bump
// inst.Version on success.
type InstanceStore interface {
	Create(ctx context.Context, inst *domain.WorkflowInstance) (string, error)
	Get(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	Save(ctx context.Context, inst *domain.WorkflowInstance, expectedVersion int64) error
}

// Scheduler delivers Advance(instanceID) at least once, now or at a time.
type Scheduler interface {
	ScheduleNow(ctx context.Context, instanceID string) error
	ScheduleAt(ctx context.Context, at time.Time, instanceID string) error
}

// ActionExecutor performs the side effect of an action step. Handlers may
// write into vars; the engine persists the map after the call.
type ActionExecutor interface {
	Execute(ctx context.Context, actionType domain.ActionType, endpoint string, vars map[string]any) error
}

// SubjectResolver produces the record a condition step is evaluated against.
type SubjectResolver interface {
	Resolve(ctx context.Context, inst *domain.WorkflowInstance) (map[string]any, error)
}

// SubjectResolverFunc adapts a function to SubjectResolver.
type SubjectResolverFunc func(ctx context.Context, inst *domain.WorkflowInstance) (map[string]any, error)

func (f SubjectResolverFunc) Resolve(ctx context.Context, inst *domain.WorkflowInstance) (map[string]any, error) {
	return f(ctx, inst)
}

// ContextSubjectResolver evaluates conditions directly against a copy of the
// instance context.
type ContextSubjectResolver struct{}

func (ContextSubjectResolver) Resolve(_ context.Context, inst *domain.WorkflowInstance) (map[string]any, error) {
	record := make(map[string]any, len(inst.Context))
	for k, v := range inst.Context {
		record[k] = v
	}
	return record, nil
}
