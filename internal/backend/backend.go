// Package backend defines the execution backend contract and a local
// implementation that runs simulated backtests. The backend owns the
// authoritative execution record; the orchestrator polls it.
package backend

import (
	"context"

	"github.com/stratflow/stratflow/pkg/schema"
)

// ExecutionBackend runs validated workflows and answers status polls.
type ExecutionBackend interface {
	// ExecuteWorkflow starts a run and returns the execution record in its
	// initial (pending) status.
	ExecuteWorkflow(ctx context.Context, workflowID string, mode schema.ExecutionMode, cfg schema.ExecutionConfig) (*schema.Execution, error)

	// GetExecution returns the current authoritative execution record.
	GetExecution(ctx context.Context, executionID string) (*schema.Execution, error)

	// StopExecution requests a stop. Idempotent on already-terminal runs.
	StopExecution(ctx context.Context, executionID string) error
}
