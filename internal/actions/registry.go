package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

var ErrNoHandler = errors.New("no handler registered for action type")

// Handler performs one action. It may write results into vars.
type Handler func(ctx context.Context, endpoint string, vars map[string]any) error

// Registry dispatches action steps to handlers by action type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.ActionType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.ActionType]Handler)}
}

// NewDefaultRegistry registers a handler for every known action type that
// only logs the call.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.ActionAPICall, LoggingHandler(domain.ActionAPICall))
	r.Register(domain.ActionEmail, LoggingHandler(domain.ActionEmail))
	r.Register(domain.ActionDBUpdate, LoggingHandler(domain.ActionDBUpdate))
	return r
}

// Register replaces any handler already registered for actionType.
func (r *Registry) Register(actionType domain.ActionType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

func (r *Registry) Execute(ctx context.Context, actionType domain.ActionType, endpoint string, vars map[string]any) error {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, actionType)
	}
	return h(ctx, endpoint, vars)
}

// LoggingHandler records the call and has no other effect.
func LoggingHandler(actionType domain.ActionType) Handler {
	return func(ctx context.Context, endpoint string, vars map[string]any) error {
		slog.InfoContext(ctx, "Executing action", "action_type", actionType, "endpoint", endpoint, "context_keys", len(vars))
		return nil
	}
}
