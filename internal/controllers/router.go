package controllers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workflows", c.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", c.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", c.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}", c.handleUpdateWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/start", c.handleStartWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/instances", c.handleListInstances)
	mux.HandleFunc("GET /api/instances/{id}", c.handleGetInstance)
}
func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.handleGetExecutors)
}

// NewRouter registers every controller plus health and metrics endpoints and
// wraps the mux in the request middleware chain.
func NewRouter(wf *WorkflowsController, ex *ExecutorsController, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	wf.RegisterRoutes(mux)
	ex.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	var h http.Handler = mux
	h = requestLogger(h)
	h = middleware.Recoverer(h)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)
	return h
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
