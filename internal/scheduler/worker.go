package scheduler

import (
	"context"
	"log/slog"

	"github.com/RealZimboGuy/stepflow/internal/domain"
)

// worker processes claimed jobs until the work channel is closed.
func (m *Manager) worker(ctx context.Context, id int, handler Handler) {
	for job := range m.work {
		slog.DebugContext(ctx, "Worker starting job", "worker_id", id, "job_id", job.ID, "instance_id", job.InstanceID)
		m.process(ctx, job, handler)
	}
}

func (m *Manager) process(ctx context.Context, job *domain.Job, handler Handler) {
	// a cancelled parent must not abort bookkeeping for a job already run
	bookkeeping := context.WithoutCancel(ctx)

	err := handler(ctx, job.InstanceID)
	if err == nil {
		if err := m.jobs.MarkDone(bookkeeping, job.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark job done", "job_id", job.ID, "error", err)
		}
		m.metrics.Job(backendDatabase, "done")
		return
	}

	attempt := job.RetryCount + 1
	if m.cfg.Retry.Exhausted(attempt) {
		slog.ErrorContext(ctx, "Job failed permanently", "job_id", job.ID, "instance_id", job.InstanceID, "attempts", attempt, "error", err)
		if err := m.jobs.MarkFailed(bookkeeping, job.ID, err.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark job failed", "job_id", job.ID, "error", err)
		}
		m.metrics.Job(backendDatabase, "failed")
		return
	}

	next := m.clock.Now().Add(m.cfg.Retry.SlidingInterval(attempt))
	slog.WarnContext(ctx, "Job failed, retrying", "job_id", job.ID, "instance_id", job.InstanceID, "attempt", attempt, "next", next, "error", err)
	if err := m.jobs.Reschedule(bookkeeping, job.ID, next, err.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to reschedule job", "job_id", job.ID, "error", err)
	}
	m.metrics.Job(backendDatabase, "retried")
}
