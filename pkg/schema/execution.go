package schema

import "time"

// ExecutionMode selects how a validated graph is run.
type ExecutionMode string

const (
	ModeBacktest   ExecutionMode = "backtest"
	ModePaperTrade ExecutionMode = "paper_trade"
	ModeLiveTrade  ExecutionMode = "live_trade"
)

// KnownMode reports whether m is a supported execution mode.
func KnownMode(m ExecutionMode) bool {
	return m == ModeBacktest || m == ModePaperTrade || m == ModeLiveTrade
}

// ExecutionStatus is the lifecycle state of a submitted execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionStopped
}

// ValidExecutionTransitions defines the allowed status transitions for
// executions. The orchestrator and the local backend both consult it.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending:   {ExecutionRunning, ExecutionFailed, ExecutionStopped},
	ExecutionRunning:   {ExecutionCompleted, ExecutionFailed, ExecutionStopped},
	ExecutionCompleted: {},
	ExecutionFailed:    {},
	ExecutionStopped:   {},
}

// ValidExecutionTransition reports whether from -> to is allowed.
func ValidExecutionTransition(from, to ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ExecutionConfig carries the run parameters chosen at submission.
type ExecutionConfig struct {
	Symbols        []string       `json:"symbols"`
	Timeframe      string         `json:"timeframe"`
	StartDate      *time.Time     `json:"start_date,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	InitialCapital float64        `json:"initial_capital"`
	Params         map[string]any `json:"params,omitempty"`
}

// Execution is one requested run of a validated graph. The authoritative
// record lives in the execution backend; the orchestrator holds a polled
// copy for its lifetime.
type Execution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Mode       ExecutionMode   `json:"mode"`
	Status     ExecutionStatus `json:"status"`
	Config     ExecutionConfig `json:"config"`
	Error      string          `json:"error,omitempty"`
	Metrics    map[string]any  `json:"metrics,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
