package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

const orderYAML = `name: order-fulfilment
trigger:
  id: t1
  type: API_CALL
steps:
  - id: charge
    type: action
    action_type: API_CALL
    endpoint: https://payments.example.com/charge
    next: [check]
  - id: check
    type: condition
    condition:
      type: greater_than
      field: amount
      value: 100
      true_next: [pause]
      false_next: [notify]
  - id: pause
    type: wait_for
    wait_time:
      type: hours
      value: 2
    next: [notify]
  - id: notify
    type: action
    action_type: EMAIL
    endpoint: ops@example.com
`

const reminderJSON = `{
  "id": "wf-reminder",
  "name": "reminder",
  "trigger": {"id": "t1", "type": "API_CALL"},
  "steps": [
    {"id": "a", "type": "action", "action_type": "EMAIL", "endpoint": "x@example.com"}
  ]
}`

// MockDefinitionStore implements DefinitionStore for testing
type MockDefinitionStore struct {
	SaveFunc       func(ctx context.Context, def *domain.WorkflowDefinition) (string, error)
	FindByNameFunc func(ctx context.Context, name string) (*domain.WorkflowDefinition, error)
	Saved          []*domain.WorkflowDefinition
}

func (m *MockDefinitionStore) Save(ctx context.Context, def *domain.WorkflowDefinition) (string, error) {
	m.Saved = append(m.Saved, def)
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, def)
	}
	if def.ID == "" {
		def.ID = fmt.Sprintf("generated-%d", len(m.Saved))
	}
	return def.ID, nil
}

func (m *MockDefinitionStore) FindByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	if m.FindByNameFunc != nil {
		return m.FindByNameFunc(ctx, name)
	}
	return nil, engine.ErrDefinitionNotFound
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestParseDefinition_YAML(t *testing.T) {
	def, err := ParseDefinition([]byte(orderYAML), ".yaml")
	if err != nil {
		t.Fatalf("ParseDefinition returned error: %v", err)
	}
	if def.Name != "order-fulfilment" || len(def.Steps) != 4 {
		t.Fatalf("Unexpected definition: %+v", def)
	}
	cond, ok := def.Steps[1].(*domain.ConditionStep)
	if !ok {
		t.Fatalf("Expected condition step, got %T", def.Steps[1])
	}
	if cond.Condition.Operator != domain.OpGreaterThan || cond.TrueNext[0] != "pause" || cond.FalseNext[0] != "notify" {
		t.Errorf("Unexpected condition: %+v", cond)
	}
	wait, ok := def.Steps[2].(*domain.WaitForStep)
	if !ok || wait.Unit != domain.WaitHours || wait.Value != 2 {
		t.Errorf("Unexpected wait step: %+v", def.Steps[2])
	}
}

func TestParseDefinition_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":        "   ",
		"no steps":     "name: x\nsteps: []\n",
		"bad next":     "name: x\nsteps:\n  - id: a\n    type: action\n    action_type: EMAIL\n    next: [missing]\n",
		"unknown type": "name: x\nsteps:\n  - id: a\n    type: teleport\n",
		"bad yaml":     "name: [unterminated",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDefinition([]byte(content), ".yml"); err == nil {
				t.Errorf("Expected error for %s", name)
			}
		})
	}
}

func TestLoadDir_UpsertsDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "order.yaml", orderYAML)
	writeFile(t, dir, "reminder.json", reminderJSON)
	writeFile(t, dir, "README.md", "not a definition")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	store := &MockDefinitionStore{
		FindByNameFunc: func(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
			if name == "order-fulfilment" {
				return &domain.WorkflowDefinition{ID: "wf-existing", Name: name}, nil
			}
			return nil, engine.ErrDefinitionNotFound
		},
	}

	ids, err := LoadDir(context.Background(), store, dir)
	if err != nil {
		t.Fatalf("LoadDir returned error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 loaded definitions, got %v", ids)
	}
	// files are loaded in name order
	if ids[0] != "wf-existing" {
		t.Errorf("Expected order definition to keep stored id, got %s", ids[0])
	}
	if ids[1] != "wf-reminder" {
		t.Errorf("Expected explicit id from json, got %s", ids[1])
	}
}

func TestLoadDir_ReportsBadFilesAndContinues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a-broken.yaml", "name: broken\nsteps: []\n")
	writeFile(t, dir, "b-reminder.json", reminderJSON)

	store := &MockDefinitionStore{}
	ids, err := LoadDir(context.Background(), store, dir)
	if err == nil {
		t.Error("Expected error for the broken file")
	}
	if len(ids) != 1 || ids[0] != "wf-reminder" {
		t.Errorf("Expected the valid file to load, got %v", ids)
	}
}

func TestLoadDir_StoreErrorStops(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "order.yaml", orderYAML)

	boom := errors.New("db down")
	store := &MockDefinitionStore{
		SaveFunc: func(ctx context.Context, def *domain.WorkflowDefinition) (string, error) {
			return "", boom
		},
	}
	if _, err := LoadDir(context.Background(), store, dir); !errors.Is(err, boom) {
		t.Errorf("Expected store error, got %v", err)
	}
}

func TestLoadDir_MissingDir(t *testing.T) {
	if _, err := LoadDir(context.Background(), &MockDefinitionStore{}, filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}
}
