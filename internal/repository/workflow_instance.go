package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// WorkflowInstanceRepository is the SQL instance store. Every write after the
// insert goes through Save, which only succeeds against the version the
// caller loaded.
type WorkflowInstanceRepository struct {
	db *sql.DB
}

func NewWorkflowInstanceRepository(db *sql.DB) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{db: db}
}

const instanceColumns = ` id, workflow_id, status, current_step, context, logs, version, created, modified `

func (r *WorkflowInstanceRepository) Create(ctx context.Context, inst *domain.WorkflowInstance) (string, error) {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	vars, logs, err := encodeInstance(inst)
	if err != nil {
		return "", err
	}
	query := `INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (` + strings.Join(placeholders(1, 9), ", ") + `)`
	_, err = r.db.ExecContext(ctx, query, inst.ID, inst.WorkflowID, string(inst.Status), nullString(inst.CurrentStep),
		vars, logs, inst.Version, formatDateInDatabase(inst.Created), formatDateInDatabase(inst.Modified))
	if err != nil {
		return "", err
	}
	return inst.ID, nil
}

func (r *WorkflowInstanceRepository) Get(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ` + placeholder(1)
	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrInstanceNotFound, id)
	}
	return inst, err
}

// Save writes the mutable columns when the stored version still equals
// expectedVersion, then bumps inst.Version.
func (r *WorkflowInstanceRepository) Save(ctx context.Context, inst *domain.WorkflowInstance, expectedVersion int64) error {
	vars, logs, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	query := `
		UPDATE workflow_instances
		SET status = ` + placeholder(1) + `, current_step = ` + placeholder(2) + `, context = ` + placeholder(3) + `,
		    logs = ` + placeholder(4) + `, version = ` + placeholder(5) + `, modified = ` + placeholder(6) + `
		WHERE id = ` + placeholder(7) + ` AND version = ` + placeholder(8) + `
	`
	result, err := r.db.ExecContext(ctx, query, string(inst.Status), nullString(inst.CurrentStep), vars, logs,
		expectedVersion+1, formatDateInDatabase(inst.Modified), inst.ID, expectedVersion)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 1 {
		inst.Version = expectedVersion + 1
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM workflow_instances WHERE id = `+placeholder(1), inst.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", engine.ErrInstanceNotFound, inst.ID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s at version %d", engine.ErrVersionConflict, inst.ID, expectedVersion)
}

// FindByWorkflowID lists the newest instances of one definition first.
func (r *WorkflowInstanceRepository) FindByWorkflowID(ctx context.Context, workflowID string, limit int) ([]*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY created DESC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.QueryContext(ctx, query, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]*domain.WorkflowInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

func encodeInstance(inst *domain.WorkflowInstance) (string, string, error) {
	vars := inst.Context
	if vars == nil {
		vars = map[string]any{}
	}
	v, err := json.Marshal(vars)
	if err != nil {
		return "", "", fmt.Errorf("encode context of %s: %w", inst.ID, err)
	}
	logs := inst.Logs
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	l, err := json.Marshal(logs)
	if err != nil {
		return "", "", fmt.Errorf("encode logs of %s: %w", inst.ID, err)
	}
	return string(v), string(l), nil
}

func scanInstance(row rowScanner) (*domain.WorkflowInstance, error) {
	var (
		inst       domain.WorkflowInstance
		status     string
		vars, logs string
	)
	err := row.Scan(&inst.ID, &inst.WorkflowID, &status, &inst.CurrentStep, &vars, &logs, &inst.Version, &inst.Created, &inst.Modified)
	if err != nil {
		return nil, err
	}
	inst.Status = domain.InstanceStatus(status)

	// UseNumber keeps counters and other integers exact across round trips.
	dec := json.NewDecoder(strings.NewReader(vars))
	dec.UseNumber()
	if err := dec.Decode(&inst.Context); err != nil {
		return nil, fmt.Errorf("decode context of %s: %w", inst.ID, err)
	}
	if inst.Context == nil {
		inst.Context = map[string]any{}
	}
	if err := json.Unmarshal([]byte(logs), &inst.Logs); err != nil {
		return nil, fmt.Errorf("decode logs of %s: %w", inst.ID, err)
	}
	return &inst, nil
}
