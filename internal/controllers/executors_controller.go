package controllers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/util"
)

type ExecutorRepo interface {
	GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error)
}

type ExecutorsController struct {
	ExecutorsRepo ExecutorRepo
}

func NewExecutorsController(executorsRepo ExecutorRepo) *ExecutorsController {
	return &ExecutorsController{ExecutorsRepo: executorsRepo}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	slog.DebugContext(r.Context(), "GetExecutors called")

	results, err := c.ExecutorsRepo.GetExecutorsByLastActive(r.Context(), 20)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to search executors", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executors")
		return
	}
	if results == nil {
		results = []*domain.Executor{}
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}
