package store

import (
	"encoding/json"
	"time"

	"github.com/stratflow/stratflow/pkg/schema"
)

// Workflow is the persisted representation of a strategy workflow. The
// committed snapshot lives in WorkflowData; Draft holds the most recent
// autosave and is promoted into WorkflowData by a manual save. A nil Draft
// means no autosave is pending.
type Workflow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	WorkflowData json.RawMessage `json:"workflow_data"`
	Draft        json.RawMessage `json:"draft,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	SavedAt      *time.Time      `json:"saved_at,omitempty"`
	AutoSavedAt  *time.Time      `json:"autosaved_at,omitempty"`
}

// Event is an immutable entry in the append-only event log.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// ScheduledRun is a cron-triggered execution of a workflow.
type ScheduledRun struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	CronExpression string                 `json:"cron_expression"`
	Mode           schema.ExecutionMode   `json:"mode"`
	Config         schema.ExecutionConfig `json:"config"`
	Enabled        bool                   `json:"enabled"`
	LastRunAt      *time.Time             `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time             `json:"next_run_at,omitempty"`
	LastRunStatus  string                 `json:"last_run_status,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing and searching workflows.
// Query matches name and description as a substring.
type WorkflowFilter struct {
	Query  string     `json:"query,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// WorkflowUpdate specifies the mutable fields of a manual save. A non-nil
// WorkflowData becomes the committed snapshot and clears any pending draft.
type WorkflowUpdate struct {
	Name         *string         `json:"name,omitempty"`
	Description  *string         `json:"description,omitempty"`
	WorkflowData json.RawMessage `json:"workflow_data,omitempty"`
}

// ExecutionUpdate specifies the mutable fields of an execution row.
type ExecutionUpdate struct {
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Error      *string                 `json:"error,omitempty"`
	Metrics    map[string]any          `json:"metrics,omitempty"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
}

// EventFilter specifies criteria for listing events by type.
type EventFilter struct {
	WorkflowID string     `json:"workflow_id,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// ScheduledRunUpdate specifies the mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
