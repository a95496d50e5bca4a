package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// WorkflowDefinitionRepository stores definitions with steps, trigger and
// edges as JSON documents next to the indexed id and name.
type WorkflowDefinitionRepository struct {
	db *sql.DB
}

func NewWorkflowDefinitionRepository(db *sql.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db}
}

const definitionColumns = `id, name, trigger_def, steps, edges, created, updated`

// Save inserts a definition, or replaces the stored one with the same id.
// An empty id is assigned a new uuid.
func (r *WorkflowDefinitionRepository) Save(ctx context.Context, def *domain.WorkflowDefinition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now()
	if def.Created.IsZero() {
		def.Created = now
	}
	def.Updated = now

	trigger, err := json.Marshal(def.Trigger)
	if err != nil {
		return "", fmt.Errorf("encode trigger: %w", err)
	}
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	edges, err := json.Marshal(def.Edges)
	if err != nil {
		return "", fmt.Errorf("encode edges: %w", err)
	}

	query := `INSERT INTO workflow_definitions (` + definitionColumns + `)
		VALUES (` + strings.Join(placeholders(1, 7), ", ") + `)` +
		upsertClause("id", "name", "trigger_def", "steps", "edges", "updated")

	_, err = r.db.ExecContext(ctx, query, def.ID, def.Name, string(trigger), string(steps), string(edges),
		formatDateInDatabase(def.Created), formatDateInDatabase(def.Updated))
	if err != nil {
		return "", err
	}
	return def.ID, nil
}

// Get fetches a definition by id.
func (r *WorkflowDefinitionRepository) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ` + placeholder(1)
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrDefinitionNotFound, id)
	}
	return def, err
}

// FindByName fetches a workflow definition by its name.
func (r *WorkflowDefinitionRepository) FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE name = ` + placeholder(1)
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrDefinitionNotFound, name)
	}
	return def, err
}

// FindAll returns all workflow definitions.
func (r *WorkflowDefinitionRepository) FindAll(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]*domain.WorkflowDefinition, 0)
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*domain.WorkflowDefinition, error) {
	var (
		def                   domain.WorkflowDefinition
		trigger, steps, edges string
	)
	if err := row.Scan(&def.ID, &def.Name, &trigger, &steps, &edges, &def.Created, &def.Updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(trigger), &def.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger of %s: %w", def.ID, err)
	}
	if err := json.Unmarshal([]byte(steps), &def.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of %s: %w", def.ID, err)
	}
	if edges != "" && edges != "null" {
		if err := json.Unmarshal([]byte(edges), &def.Edges); err != nil {
			return nil, fmt.Errorf("decode edges of %s: %w", def.ID, err)
		}
	}
	return &def, nil
}
