package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// Handler is invoked once per delivered job. A non-nil error means the job
// should be delivered again later.
type Handler func(ctx context.Context, instanceID string) error

// JobStore is satisfied by repository.JobRepository.
type JobStore interface {
	Enqueue(ctx context.Context, instanceID string, executeAt time.Time) (*domain.Job, error)
	FindDueJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	Claim(ctx context.Context, id string, executorID int64) (bool, error)
	MarkDone(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, next time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	FindStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error)
	Release(ctx context.Context, id string, modified time.Time) (bool, error)
}

// JobQueue is the enqueue side of the database scheduler. Jobs it writes are
// picked up by a Manager polling the same table, in this process or another.
type JobQueue struct {
	jobs   JobStore
	clock  core.Clock
	wakeup chan struct{}
}

func NewJobQueue(jobs JobStore, clock core.Clock) *JobQueue {
	return &JobQueue{
		jobs:   jobs,
		clock:  core.OrReal(clock),
		wakeup: make(chan struct{}, 1),
	}
}

func (q *JobQueue) ScheduleNow(ctx context.Context, instanceID string) error {
	if _, err := q.jobs.Enqueue(ctx, instanceID, q.clock.Now()); err != nil {
		return fmt.Errorf("enqueue job for %s: %w", instanceID, err)
	}
	q.Wakeup()
	return nil
}

func (q *JobQueue) ScheduleAt(ctx context.Context, at time.Time, instanceID string) error {
	job, err := q.jobs.Enqueue(ctx, instanceID, at)
	if err != nil {
		return fmt.Errorf("enqueue job for %s at %s: %w", instanceID, at, err)
	}
	slog.DebugContext(ctx, "Job scheduled", "job_id", job.ID, "instance_id", instanceID, "execute_at", at)
	return nil
}

// Wakeup makes a running Manager poll immediately instead of at its next tick.
func (q *JobQueue) Wakeup() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}
