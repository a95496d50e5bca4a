package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

func TestDefaultRegistry_HandlesEveryActionType(t *testing.T) {
	r := NewDefaultRegistry()
	for _, at := range []domain.ActionType{domain.ActionAPICall, domain.ActionEmail, domain.ActionDBUpdate} {
		if err := r.Execute(context.Background(), at, "https://example.com", map[string]any{}); err != nil {
			t.Errorf("Expected %s to succeed, got %v", at, err)
		}
	}
}

func TestRegistry_UnregisteredType(t *testing.T) {
	r := NewRegistry()
	err := r.Execute(context.Background(), domain.ActionEmail, "", nil)
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}
}

func TestRegistry_RegisterReplacesAndPassesArguments(t *testing.T) {
	r := NewDefaultRegistry()
	var gotEndpoint string
	r.Register(domain.ActionAPICall, func(ctx context.Context, endpoint string, vars map[string]any) error {
		gotEndpoint = endpoint
		vars["status_code"] = 200
		return nil
	})

	vars := map[string]any{}
	if err := r.Execute(context.Background(), domain.ActionAPICall, "/orders", vars); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if gotEndpoint != "/orders" {
		t.Errorf("Expected endpoint /orders, got %q", gotEndpoint)
	}
	if vars["status_code"] != 200 {
		t.Errorf("Expected handler to write into vars, got %v", vars)
	}
}

func TestRegistry_HandlerErrorIsReturned(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("smtp refused")
	r.Register(domain.ActionEmail, func(ctx context.Context, endpoint string, vars map[string]any) error {
		return boom
	})
	if err := r.Execute(context.Background(), domain.ActionEmail, "ops@example.com", nil); !errors.Is(err, boom) {
		t.Errorf("Expected handler error, got %v", err)
	}
}
