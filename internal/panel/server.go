// Package panel is the HTTP surface the editing canvas talks to: workflow
// CRUD, editing sessions, validation, execution control and an SSE status
// stream. It is a thin JSON layer; all behavior lives in the session,
// validation and orchestrator packages.
package panel

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/stratflow/stratflow/internal/orchestrator"
	"github.com/stratflow/stratflow/internal/scheduler"
	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/internal/streaming"
	"github.com/stratflow/stratflow/internal/validation"
)

// Deps holds the dependencies for the panel server.
type Deps struct {
	Store        store.Store
	Validator    *validation.Validator
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Hub          streaming.EventHub
	Logger       *slog.Logger

	// AutosaveInterval overrides the session default when nonzero.
	AutosaveInterval time.Duration
}

// Server exposes the editing surface API.
type Server struct {
	deps     Deps
	sessions *sessionRegistry
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps:     deps,
		sessions: newSessionRegistry(deps),
	}
}

// Handler returns the HTTP handler for the panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Workflows.
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/export", s.handleExportWorkflow)
	mux.HandleFunc("POST /api/workflows/import", s.handleImportWorkflow)

	// Stateless validation.
	mux.HandleFunc("POST /api/validate", s.handleValidate)

	// Editing sessions.
	mux.HandleFunc("POST /api/sessions", s.handleOpenSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{id}/graph", s.handleApplyEdit)
	mux.HandleFunc("POST /api/sessions/{id}/save", s.handleSaveSession)
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleResetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)

	// Executions.
	mux.HandleFunc("POST /api/workflows/{id}/executions", s.handleSubmitExecution)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/stop", s.handleStopExecution)

	// Scheduled runs.
	mux.HandleFunc("GET /api/scheduler", s.handleListScheduledRuns)
	mux.HandleFunc("POST /api/scheduler", s.handleCreateScheduledRun)
	mux.HandleFunc("PUT /api/scheduler/{id}", s.handleUpdateScheduledRun)
	mux.HandleFunc("DELETE /api/scheduler/{id}", s.handleDeleteScheduledRun)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)

	return mux
}

// Close shuts down all open editing sessions.
func (s *Server) Close() {
	s.sessions.closeAll()
}
