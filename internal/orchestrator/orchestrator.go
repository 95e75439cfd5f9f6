// Package orchestrator drives workflow executions: it gates submission on
// validation, tracks running executions by polling the backend, and stops
// them on request. The backend owns the authoritative execution record;
// the orchestrator holds a polled copy for the lifetime of each run.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stratflow/stratflow/internal/backend"
	"github.com/stratflow/stratflow/internal/logging"
	"github.com/stratflow/stratflow/internal/notify"
	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/internal/validation"
	"github.com/stratflow/stratflow/pkg/schema"
)

// Config carries the orchestrator collaborators and polling knobs.
type Config struct {
	Poll     PollPolicy
	Notifier notify.Notifier
	Logger   *slog.Logger

	// OnTransition, when set, is invoked after every observed status
	// change. Used by the status stream. Must not block.
	OnTransition func(exec *schema.Execution)
}

// Orchestrator submits, watches and stops executions.
type Orchestrator struct {
	backend   backend.ExecutionBackend
	store     store.Store
	validator *validation.Validator
	notifier  notify.Notifier
	logger    *slog.Logger
	poll      PollPolicy
	onChange  func(*schema.Execution)

	mu       sync.Mutex
	watchers map[string]*watcher
	closed   bool
}

// New creates an orchestrator over the given backend and store.
func New(be backend.ExecutionBackend, st store.Store, v *validation.Validator, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{Logger: cfg.Logger}
	}
	return &Orchestrator{
		backend:   be,
		store:     st,
		validator: v,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		poll:      cfg.Poll.withDefaults(),
		onChange:  cfg.OnTransition,
		watchers:  make(map[string]*watcher),
	}
}

// Submit validates the workflow's committed snapshot and, if it passes,
// hands it to the backend and starts watching the resulting execution.
// Callers that already hold a validation report for the graph being
// submitted should use SubmitValidated instead.
func (o *Orchestrator) Submit(ctx context.Context, workflowID string, mode schema.ExecutionMode, cfg schema.ExecutionConfig) (*schema.Execution, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	graph, err := schema.DecodeWire(wf.WorkflowData)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSubmission, "workflow data is not runnable").
			WithWorkflow(workflowID).WithCause(err)
	}
	return o.SubmitValidated(ctx, workflowID, o.validator.Validate(graph), mode, cfg)
}

// SubmitValidated submits a workflow whose graph has already been
// validated. The report is a hard gate: an invalid report fails with a
// submission error and the backend is never called.
func (o *Orchestrator) SubmitValidated(ctx context.Context, workflowID string, report *schema.ValidationReport, mode schema.ExecutionMode, cfg schema.ExecutionConfig) (*schema.Execution, error) {
	if report == nil {
		return nil, schema.NewError(schema.ErrCodeSubmission, "workflow has not been validated").
			WithWorkflow(workflowID)
	}
	if verr := report.ToError(); verr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSubmission,
			"workflow failed validation with %d error(s)", len(report.Errors)).
			WithWorkflow(workflowID).WithCause(verr)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeSubmission, "orchestrator is shut down").
			WithWorkflow(workflowID)
	}
	o.mu.Unlock()

	exec, err := o.backend.ExecuteWorkflow(ctx, workflowID, mode, cfg)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSubmission, "backend rejected submission").
			WithWorkflow(workflowID).WithCause(err)
	}

	o.appendSubmittedEvent(exec)
	o.notifier.Notify(ctx, notify.Notification{
		Level:       notify.LevelInfo,
		Code:        schema.EventExecutionSubmitted,
		Message:     fmt.Sprintf("%s execution submitted", exec.Mode),
		WorkflowID:  workflowID,
		ExecutionID: exec.ID,
	})
	o.watch(exec)

	snapshot := *exec
	return &snapshot, nil
}

// Stop asks the backend to stop an execution. The local copy is
// optimistically marked stopped; the next poll reconciles it with the
// backend's value, which wins if the run ended some other way first.
func (o *Orchestrator) Stop(ctx context.Context, executionID string) error {
	if err := o.backend.StopExecution(ctx, executionID); err != nil {
		return err
	}

	o.mu.Lock()
	w := o.watchers[executionID]
	o.mu.Unlock()
	if w != nil {
		w.markStoppedOptimistic()
	}
	return nil
}

// Status returns the last-known execution snapshot. Watched executions are
// answered from the polled copy without touching the backend; others fall
// through to the backend.
func (o *Orchestrator) Status(ctx context.Context, executionID string) (*schema.Execution, error) {
	o.mu.Lock()
	w := o.watchers[executionID]
	o.mu.Unlock()
	if w != nil {
		if exec := w.lastKnown(); exec != nil {
			return exec, nil
		}
	}
	return o.backend.GetExecution(ctx, executionID)
}

// Watching reports whether a poll loop is active for the execution.
func (o *Orchestrator) Watching(executionID string) bool {
	o.mu.Lock()
	w := o.watchers[executionID]
	o.mu.Unlock()
	if w == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Close tears down all watchers and waits for their poll loops to exit.
// In-flight executions keep running in the backend.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	watchers := make([]*watcher, 0, len(o.watchers))
	for _, w := range o.watchers {
		watchers = append(watchers, w)
	}
	o.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

// watch starts a single-flight poll loop for the execution. A second call
// for the same execution is a no-op.
func (o *Orchestrator) watch(exec *schema.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.watchers[exec.ID] != nil {
		return
	}
	w := newWatcher(o, exec)
	o.watchers[exec.ID] = w
	go w.loop()
}

// drop removes a finished watcher. The last-known snapshot stays readable
// through the backend's persisted row.
func (o *Orchestrator) drop(executionID string) {
	o.mu.Lock()
	delete(o.watchers, executionID)
	o.mu.Unlock()
}

func (o *Orchestrator) appendSubmittedEvent(exec *schema.Execution) {
	payload, _ := json.Marshal(store.ExecutionEventPayload{
		ExecutionID: exec.ID,
		Mode:        string(exec.Mode),
	})
	if err := o.store.AppendEvent(context.Background(), &store.Event{
		WorkflowID: exec.WorkflowID,
		Type:       schema.EventExecutionSubmitted,
		Payload:    payload,
	}); err != nil {
		ctx := logging.WithIDs(context.Background(), exec.WorkflowID, exec.ID, "")
		logging.LogWith(ctx, o.logger).Warn("append submission event failed", "error", err)
	}
}
