package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// JobRepository persists scheduled advances in workflow_jobs.
type JobRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewJobRepository(db *sql.DB, clock core.Clock) *JobRepository {
	return &JobRepository{db: db, clock: core.OrReal(clock)}
}

const jobColumns = ` id, instance_id, execute_at, status, executor_id, retry_count, last_error, created, modified `

// Enqueue inserts a PENDING job for instanceID due at executeAt.
func (r *JobRepository) Enqueue(ctx context.Context, instanceID string, executeAt time.Time) (*domain.Job, error) {
	now := r.clock.Now()
	job := &domain.Job{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		ExecuteAt:  executeAt,
		Status:     domain.JobPending,
		Created:    now,
		Modified:   now,
	}
	query := `INSERT INTO workflow_jobs (` + jobColumns + `)
		VALUES (` + strings.Join(placeholders(1, 9), ", ") + `)`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.InstanceID, formatDateInDatabase(job.ExecuteAt), string(job.Status),
		nullInt64(job.ExecutorID), job.RetryCount, nullString(job.LastError), formatDateInDatabase(job.Created), formatDateInDatabase(job.Modified))
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM workflow_jobs WHERE id = ` + placeholder(1)
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

// FindDueJobs returns PENDING jobs whose execute_at has passed, oldest first.
func (r *JobRepository) FindDueJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM workflow_jobs
		WHERE ` + dateBefore("execute_at", r.clock.Now()) + `
		  AND status = 'PENDING'
		ORDER BY execute_at ASC
		LIMIT ` + placeholder(1) + `
	`
	return r.queryJobs(ctx, query, limit)
}

// Claim marks a PENDING job as CLAIMED by executorID. It returns false when
// another executor got there first.
func (r *JobRepository) Claim(ctx context.Context, id string, executorID int64) (bool, error) {
	query := `
		UPDATE workflow_jobs
		SET status = 'CLAIMED', executor_id = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = 'PENDING'
	`
	return r.execOne(ctx, query, executorID, formatDateInDatabase(r.clock.Now()), id)
}

func (r *JobRepository) MarkDone(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_jobs
		SET status = 'DONE', modified = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.ExecContext(ctx, query, formatDateInDatabase(r.clock.Now()), id)
	return err
}

// Reschedule releases a failed job back to PENDING at next with its retry
// counter bumped.
func (r *JobRepository) Reschedule(ctx context.Context, id string, next time.Time, lastError string) error {
	query := `
		UPDATE workflow_jobs
		SET status = 'PENDING', executor_id = NULL, retry_count = retry_count + 1,
		    execute_at = ` + placeholder(1) + `, last_error = ` + placeholder(2) + `, modified = ` + placeholder(3) + `
		WHERE id = ` + placeholder(4) + `
	`
	_, err := r.db.ExecContext(ctx, query, formatDateInDatabase(next), lastError, formatDateInDatabase(r.clock.Now()), id)
	return err
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE workflow_jobs
		SET status = 'FAILED', last_error = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + `
	`
	_, err := r.db.ExecContext(ctx, query, lastError, formatDateInDatabase(r.clock.Now()), id)
	return err
}

// FindStuckJobs returns CLAIMED jobs untouched since before cutoff whose
// executor has not been active since cutoff either.
func (r *JobRepository) FindStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM workflow_jobs
		WHERE status = 'CLAIMED'
		  AND ` + dateBefore("modified", cutoff) + `
		  AND (executor_id IS NULL OR executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE NOT (` + dateBefore("last_active", cutoff) + `)
		  ))
		ORDER BY execute_at ASC
		LIMIT ` + placeholder(1) + `
	`
	return r.queryJobs(ctx, query, limit)
}

// Release returns a CLAIMED job to PENDING if it still carries the modified
// timestamp the caller saw, so two repairers never both requeue it.
func (r *JobRepository) Release(ctx context.Context, id string, modified time.Time) (bool, error) {
	query := `
		UPDATE workflow_jobs
		SET status = 'PENDING', executor_id = NULL, execute_at = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = 'CLAIMED' AND modified = ` + placeholder(4) + `
	`
	now := formatDateInDatabase(r.clock.Now())
	return r.execOne(ctx, query, now, now, id, formatDateInDatabase(modified))
}

// CountByStatus is used by health reporting and tests.
func (r *JobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_jobs WHERE status = `+placeholder(1), string(status)).Scan(&n)
	return n, err
}

func (r *JobRepository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
	)
	err := row.Scan(&job.ID, &job.InstanceID, &job.ExecuteAt, &status, &job.ExecutorID, &job.RetryCount, &job.LastError, &job.Created, &job.Modified)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}
