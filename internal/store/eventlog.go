package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stratflow/stratflow/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-workflow
// sequence. A write-intent statement forces immediate lock acquisition so
// concurrent writers cannot interleave sequence reads and inserts.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx alone starts a deferred transaction; upgrade it
	// to a write transaction before reading the sequence.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`, event.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?)`,
		event.WorkflowID, event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a workflow with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, workflowID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ExecutionHistory is the replayed view of one execution's lifecycle.
type ExecutionHistory struct {
	ExecutionID string                 `json:"execution_id"`
	Status      schema.ExecutionStatus `json:"status"`
	SubmittedAt *time.Time             `json:"submitted_at,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

// ExecutionEventPayload is the payload shape written for execution events.
type ExecutionEventPayload struct {
	ExecutionID string `json:"execution_id"`
	Mode        string `json:"mode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ReplayExecutions rebuilds the execution lifecycles of a workflow from its
// event stream. Returns an error if sequence gaps are detected, which would
// mean the log was tampered with or partially lost.
func (el *EventLog) ReplayExecutions(ctx context.Context, workflowID string) (map[string]*ExecutionHistory, error) {
	events, err := el.store.GetEvents(ctx, workflowID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	histories := make(map[string]*ExecutionHistory)
	if len(events) == 0 {
		return histories, nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in workflow %s: expected %d, got %d", workflowID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		var payload ExecutionEventPayload
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &payload)
		}
		if payload.ExecutionID == "" {
			continue
		}

		h, ok := histories[payload.ExecutionID]
		if !ok {
			h = &ExecutionHistory{ExecutionID: payload.ExecutionID}
			histories[payload.ExecutionID] = h
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventExecutionSubmitted:
			h.Status = schema.ExecutionPending
			h.SubmittedAt = &ts
		case schema.EventExecutionStarted:
			h.Status = schema.ExecutionRunning
		case schema.EventExecutionCompleted:
			h.Status = schema.ExecutionCompleted
			h.FinishedAt = &ts
		case schema.EventExecutionFailed:
			h.Status = schema.ExecutionFailed
			h.FinishedAt = &ts
		case schema.EventExecutionStopped:
			h.Status = schema.ExecutionStopped
			h.FinishedAt = &ts
		}
	}

	return histories, nil
}
