package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/pkg/schema"
)

// --- Execution handlers ---

// handleSubmitExecution submits the workflow's committed snapshot. When a
// session_id is supplied the session's cached report gates the submission
// instead, so unsaved edits that broke the graph block it immediately.
func (s *Server) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := r.PathValue("id")

	var body struct {
		Mode      schema.ExecutionMode   `json:"mode"`
		Config    schema.ExecutionConfig `json:"config"`
		SessionID string                 `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Mode == "" {
		body.Mode = schema.ModeBacktest
	}

	var (
		exec *schema.Execution
		err  error
	)
	if body.SessionID != "" {
		sess := s.sessions.get(body.SessionID)
		if sess == nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		exec, err = s.deps.Orchestrator.SubmitValidated(ctx, workflowID, sess.Report(), body.Mode, body.Config)
	} else {
		exec, err = s.deps.Orchestrator.Submit(ctx, workflowID, body.Mode, body.Config)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Orchestrator.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleStopExecution(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	if err := s.deps.Orchestrator.Stop(r.Context(), executionID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ok":           "true",
		"execution_id": executionID,
	})
}

// --- Scheduled run handlers ---

func (s *Server) handleListScheduledRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.ScheduledRunFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Limit:      queryInt(r, "limit", 50),
	}
	runs, err := s.deps.Store.ListScheduledRuns(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled_runs": runs})
}

func (s *Server) handleCreateScheduledRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		WorkflowID     string                 `json:"workflow_id"`
		CronExpression string                 `json:"cron_expression"`
		Mode           schema.ExecutionMode   `json:"mode"`
		Config         schema.ExecutionConfig `json:"config"`
		Enabled        *bool                  `json:"enabled,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	if body.Mode == "" {
		body.Mode = schema.ModeBacktest
	}

	// The workflow must exist before a run can be scheduled for it.
	if _, err := s.deps.Store.GetWorkflow(ctx, body.WorkflowID); err != nil {
		writeStoreError(w, err)
		return
	}

	now := time.Now().UTC()
	next, err := s.deps.Scheduler.NextRun(body.CronExpression, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	run := &store.ScheduledRun{
		ID:             uuid.New().String(),
		WorkflowID:     body.WorkflowID,
		CronExpression: body.CronExpression,
		Mode:           body.Mode,
		Config:         body.Config,
		Enabled:        enabled,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.deps.Store.CreateScheduledRun(ctx, run); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleUpdateScheduledRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Store.UpdateScheduledRun(r.Context(), id, store.ScheduledRunUpdate{
		Enabled: body.Enabled,
	}); err != nil {
		writeStoreError(w, err)
		return
	}
	run, err := s.deps.Store.GetScheduledRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteScheduledRun(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteScheduledRun(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
