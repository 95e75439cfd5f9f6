package schema

// Event type constants for the append-only event log.
const (
	EventWorkflowCreated   = "workflow_created"
	EventWorkflowSaved     = "workflow_saved"
	EventWorkflowAutoSaved = "workflow_autosaved"
	EventWorkflowReset     = "workflow_reset"
	EventWorkflowImported  = "workflow_imported"
	EventWorkflowDeleted   = "workflow_deleted"

	EventExecutionSubmitted = "execution_submitted"
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionStopped   = "execution_stopped"

	EventScheduledRunFired  = "scheduled_run_fired"
	EventScheduledRunFailed = "scheduled_run_failed"
)

// ExecutionEventType maps a terminal-bound status transition to its event
// type, or "" when no event is emitted for the target status.
func ExecutionEventType(to ExecutionStatus) string {
	switch to {
	case ExecutionPending:
		return EventExecutionSubmitted
	case ExecutionRunning:
		return EventExecutionStarted
	case ExecutionCompleted:
		return EventExecutionCompleted
	case ExecutionFailed:
		return EventExecutionFailed
	case ExecutionStopped:
		return EventExecutionStopped
	default:
		return ""
	}
}
