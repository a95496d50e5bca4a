package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

const validDefinition = `{
  "name": "signup",
  "trigger": {"id": "t1", "type": "API_CALL"},
  "steps": [
    {"id": "welcome", "type": "action", "action_type": "EMAIL", "endpoint": "welcome@example.com", "next": ["pause"]},
    {"id": "pause", "type": "wait_for", "wait_time": {"type": "days", "value": 1}}
  ]
}`

// MockDefinitionRepo implements DefinitionRepo for testing
type MockDefinitionRepo struct {
	SaveFunc    func(ctx context.Context, def *domain.WorkflowDefinition) (string, error)
	GetFunc     func(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	FindAllFunc func(ctx context.Context) ([]*domain.WorkflowDefinition, error)
}

func (m *MockDefinitionRepo) Save(ctx context.Context, def *domain.WorkflowDefinition) (string, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, def)
	}
	return "wf-1", nil
}
func (m *MockDefinitionRepo) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, engine.ErrDefinitionNotFound
}
func (m *MockDefinitionRepo) FindAll(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	return nil, nil
}

// MockInstanceRepo implements InstanceRepo for testing
type MockInstanceRepo struct {
	GetFunc              func(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	FindByWorkflowIDFunc func(ctx context.Context, workflowID string, limit int) ([]*domain.WorkflowInstance, error)
}

func (m *MockInstanceRepo) Get(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, engine.ErrInstanceNotFound
}
func (m *MockInstanceRepo) FindByWorkflowID(ctx context.Context, workflowID string, limit int) ([]*domain.WorkflowInstance, error) {
	if m.FindByWorkflowIDFunc != nil {
		return m.FindByWorkflowIDFunc(ctx, workflowID, limit)
	}
	return nil, nil
}

// MockStarter implements Starter for testing
type MockStarter struct {
	StartFunc func(ctx context.Context, workflowID string, initial map[string]any) (string, error)
}

func (m *MockStarter) Start(ctx context.Context, workflowID string, initial map[string]any) (string, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, workflowID, initial)
	}
	return "inst-1", nil
}

func newTestRouter(defs *MockDefinitionRepo, insts *MockInstanceRepo, starter *MockStarter) http.Handler {
	return NewRouter(NewWorkflowsController(defs, insts, starter), NewExecutorsController(&MockExecutorsRepo{}), nil)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func storedInstance(id string) *domain.WorkflowInstance {
	return &domain.WorkflowInstance{
		ID:          id,
		WorkflowID:  "wf-1",
		Status:      domain.StatusInProgress,
		CurrentStep: sql.NullString{String: "welcome", Valid: true},
		Context:     map[string]any{"counter": float64(0), "counter_limit": float64(200), "email": "a@example.com"},
		Version:     1,
		Created:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Modified:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWorkflowsController_CreateWorkflow(t *testing.T) {
	var saved *domain.WorkflowDefinition
	defs := &MockDefinitionRepo{
		SaveFunc: func(ctx context.Context, def *domain.WorkflowDefinition) (string, error) {
			saved = def
			return "wf-new", nil
		},
	}
	h := newTestRouter(defs, &MockInstanceRepo{}, &MockStarter{})

	w := serve(h, http.MethodPost, "/api/workflows", validDefinition)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.CreateWorkflowResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ID != "wf-new" {
		t.Errorf("Expected id wf-new, got %s", resp.ID)
	}
	if saved == nil || len(saved.Steps) != 2 || saved.Name != "signup" {
		t.Errorf("Unexpected saved definition: %+v", saved)
	}
}

func TestWorkflowsController_CreateWorkflowRejectsInvalid(t *testing.T) {
	h := newTestRouter(&MockDefinitionRepo{}, &MockInstanceRepo{}, &MockStarter{})

	cases := map[string]string{
		"not json":      "{",
		"unknown field": `{"name":"x","bogus":1,"steps":[]}`,
		"no steps":      `{"name":"x","steps":[]}`,
		"bad next":      `{"name":"x","steps":[{"id":"a","type":"action","action_type":"EMAIL","next":["zzz"]}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := serve(h, http.MethodPost, "/api/workflows", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestWorkflowsController_GetWorkflow(t *testing.T) {
	defs := &MockDefinitionRepo{
		GetFunc: func(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
			if id != "wf-1" {
				return nil, engine.ErrDefinitionNotFound
			}
			step, _ := domain.NewActionStep("a", domain.ActionEmail, "x@example.com")
			return &domain.WorkflowDefinition{ID: "wf-1", Name: "signup", Steps: domain.StepList{step}}, nil
		},
	}
	h := newTestRouter(defs, &MockInstanceRepo{}, &MockStarter{})

	w := serve(h, http.MethodGet, "/api/workflows/wf-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got domain.WorkflowDefinition
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != "wf-1" || len(got.Steps) != 1 {
		t.Errorf("Unexpected definition: %+v", got)
	}

	if w := serve(h, http.MethodGet, "/api/workflows/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestWorkflowsController_ListWorkflows(t *testing.T) {
	h := newTestRouter(&MockDefinitionRepo{}, &MockInstanceRepo{}, &MockStarter{})
	w := serve(h, http.MethodGet, "/api/workflows", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %s", w.Body.String())
	}
}

func TestWorkflowsController_UpdateWorkflow(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var saved *domain.WorkflowDefinition
	defs := &MockDefinitionRepo{
		GetFunc: func(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
			if id != "wf-1" {
				return nil, engine.ErrDefinitionNotFound
			}
			return &domain.WorkflowDefinition{ID: id, Name: "old", Created: created}, nil
		},
		SaveFunc: func(ctx context.Context, def *domain.WorkflowDefinition) (string, error) {
			saved = def
			return def.ID, nil
		},
	}
	h := newTestRouter(defs, &MockInstanceRepo{}, &MockStarter{})

	w := serve(h, http.MethodPost, "/api/workflows/wf-1", validDefinition)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if saved == nil || saved.ID != "wf-1" || saved.Name != "signup" || !saved.Created.Equal(created) {
		t.Errorf("Unexpected saved definition: %+v", saved)
	}

	if w := serve(h, http.MethodPost, "/api/workflows/missing", validDefinition); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestWorkflowsController_StartWorkflow(t *testing.T) {
	var gotInitial map[string]any
	starter := &MockStarter{
		StartFunc: func(ctx context.Context, workflowID string, initial map[string]any) (string, error) {
			if workflowID == "missing" {
				return "", engine.ErrDefinitionNotFound
			}
			gotInitial = initial
			return "inst-1", nil
		},
	}
	insts := &MockInstanceRepo{
		GetFunc: func(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
			return storedInstance(id), nil
		},
	}
	h := newTestRouter(&MockDefinitionRepo{}, insts, starter)

	w := serve(h, http.MethodPost, "/api/workflows/wf-1/start", `{"email":"a@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.StartWorkflowResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Message != "Workflow started" || resp.Instance.ID != "inst-1" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.Instance.CurrentStep == nil || *resp.Instance.CurrentStep != "welcome" {
		t.Errorf("Expected current_step welcome, got %v", resp.Instance.CurrentStep)
	}
	if gotInitial["email"] != "a@example.com" {
		t.Errorf("Expected body passed as initial context, got %v", gotInitial)
	}

	if w := serve(h, http.MethodPost, "/api/workflows/wf-1/start", ""); w.Code != http.StatusOK {
		t.Errorf("Expected empty body to start with empty context, got %d", w.Code)
	}
	if w := serve(h, http.MethodPost, "/api/workflows/missing/start", "{}"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := serve(h, http.MethodPost, "/api/workflows/wf-1/start", "[1,2]"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-object body, got %d", w.Code)
	}
}

func TestWorkflowsController_StartWorkflowErrors(t *testing.T) {
	starter := &MockStarter{
		StartFunc: func(ctx context.Context, workflowID string, initial map[string]any) (string, error) {
			if workflowID == "empty" {
				return "", engine.ErrEmptyDefinition
			}
			return "", errors.New("db down")
		},
	}
	h := newTestRouter(&MockDefinitionRepo{}, &MockInstanceRepo{}, starter)

	if w := serve(h, http.MethodPost, "/api/workflows/empty/start", "{}"); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", w.Code)
	}
	if w := serve(h, http.MethodPost, "/api/workflows/wf-1/start", "{}"); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestWorkflowsController_Instances(t *testing.T) {
	var gotLimit int
	insts := &MockInstanceRepo{
		GetFunc: func(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
			if id == "inst-1" {
				inst := storedInstance(id)
				inst.Status = domain.StatusCompleted
				inst.ClearCurrentStep()
				return inst, nil
			}
			return nil, engine.ErrInstanceNotFound
		},
		FindByWorkflowIDFunc: func(ctx context.Context, workflowID string, limit int) ([]*domain.WorkflowInstance, error) {
			gotLimit = limit
			return []*domain.WorkflowInstance{storedInstance("a"), storedInstance("b")}, nil
		},
	}
	h := newTestRouter(&MockDefinitionRepo{}, insts, &MockStarter{})

	w := serve(h, http.MethodGet, "/api/instances/inst-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got models.WorkflowInstanceResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Status != "COMPLETED" || got.CurrentStep != nil {
		t.Errorf("Unexpected instance: %+v", got)
	}
	if w := serve(h, http.MethodGet, "/api/instances/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = serve(h, http.MethodGet, "/api/workflows/wf-1/instances?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var list []models.WorkflowInstanceResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(list) != 2 || gotLimit != 5 {
		t.Errorf("Expected 2 instances with limit 5, got %d with limit %d", len(list), gotLimit)
	}
	if w := serve(h, http.MethodGet, "/api/workflows/wf-1/instances?limit=5000", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for limit over 1000, got %d", w.Code)
	}
}

func TestRouter_HealthAndMethods(t *testing.T) {
	h := newTestRouter(&MockDefinitionRepo{}, &MockInstanceRepo{}, &MockStarter{})

	w := serve(h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Unexpected health response %d %q", w.Code, w.Body.String())
	}
	if w := serve(h, http.MethodDelete, "/api/workflows/wf-1", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
