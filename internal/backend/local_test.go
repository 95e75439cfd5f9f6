package backend

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/pkg/schema"
)

func newTestBackend(t *testing.T, stepDelay time.Duration) (*LocalBackend, *store.LibSQLStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	b := NewLocal(s, Config{PoolSize: 2, StepDelay: stepDelay})
	t.Cleanup(b.Shutdown)
	return b, s
}

func seedRunnableWorkflow(t *testing.T, s *store.LibSQLStore) *store.Workflow {
	t.Helper()
	data := `{"nodes":[
		{"id":"src","type":"dataSource","position":{"x":0,"y":0},"data":{"symbol":"AAPL"}},
		{"id":"rsi","type":"technicalIndicator","position":{"x":100,"y":0},"data":{"indicator":"rsi","period":14}},
		{"id":"out","type":"output","position":{"x":200,"y":0},"data":{}}
	],"edges":[
		{"id":"e1","source":"src","target":"rsi","targetHandle":"input"},
		{"id":"e2","source":"rsi","target":"out","targetHandle":"input"}
	]}`
	wf := &store.Workflow{
		ID:           uuid.New().String(),
		Name:         "momentum-breakout",
		WorkflowData: json.RawMessage(data),
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func backtestConfig() schema.ExecutionConfig {
	return schema.ExecutionConfig{
		Symbols:        []string{"AAPL"},
		Timeframe:      "1d",
		InitialCapital: 10000,
	}
}

func waitForStatus(t *testing.T, b *LocalBackend, executionID string, want schema.ExecutionStatus) *schema.Execution {
	t.Helper()
	var got *schema.Execution
	require.Eventually(t, func() bool {
		exec, err := b.GetExecution(context.Background(), executionID)
		if err != nil {
			return false
		}
		got = exec
		return exec.Status == want
	}, 3*time.Second, 10*time.Millisecond, "execution never reached %s", want)
	return got
}

func TestLocalBackend_RunCompletes(t *testing.T) {
	b, s := newTestBackend(t, time.Millisecond)
	ctx := context.Background()
	wf := seedRunnableWorkflow(t, s)

	exec, err := b.ExecuteWorkflow(ctx, wf.ID, schema.ModeBacktest, backtestConfig())
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionPending, exec.Status)
	assert.Equal(t, wf.ID, exec.WorkflowID)

	done := waitForStatus(t, b, exec.ID, schema.ExecutionCompleted)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.Contains(t, done.Metrics, "total_return_pct")
	assert.Contains(t, done.Metrics, "final_capital")
	assert.Contains(t, done.Metrics, "trades")
}

func TestLocalBackend_MetricsDeterministic(t *testing.T) {
	b, s := newTestBackend(t, time.Millisecond)
	ctx := context.Background()
	wf := seedRunnableWorkflow(t, s)

	first, err := b.ExecuteWorkflow(ctx, wf.ID, schema.ModeBacktest, backtestConfig())
	require.NoError(t, err)
	second, err := b.ExecuteWorkflow(ctx, wf.ID, schema.ModeBacktest, backtestConfig())
	require.NoError(t, err)

	a := waitForStatus(t, b, first.ID, schema.ExecutionCompleted)
	c := waitForStatus(t, b, second.ID, schema.ExecutionCompleted)

	assert.Equal(t, a.Metrics, c.Metrics)
}

func TestLocalBackend_TransitionEvents(t *testing.T) {
	b, s := newTestBackend(t, time.Millisecond)
	ctx := context.Background()
	wf := seedRunnableWorkflow(t, s)

	exec, err := b.ExecuteWorkflow(ctx, wf.ID, schema.ModeBacktest, backtestConfig())
	require.NoError(t, err)
	waitForStatus(t, b, exec.ID, schema.ExecutionCompleted)

	// The completed event lands just after the status row; poll for it.
	var events []*store.Event
	require.Eventually(t, func() bool {
		var err error
		events, err = s.GetEvents(ctx, wf.ID, 0)
		return err == nil && len(events) == 2
	}, 3*time.Second, 10*time.Millisecond)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{schema.EventExecutionStarted, schema.EventExecutionCompleted}, types)

	var payload store.ExecutionEventPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, exec.ID, payload.ExecutionID)
}

func TestLocalBackend_StopMarksStopped(t *testing.T) {
	// Long step delay keeps the run in flight while we stop it.
	b, s := newTestBackend(t, 200*time.Millisecond)
	ctx := context.Background()
	wf := seedRunnableWorkflow(t, s)

	exec, err := b.ExecuteWorkflow(ctx, wf.ID, schema.ModeBacktest, backtestConfig())
	require.NoError(t, err)
	waitForStatus(t, b, exec.ID, schema.ExecutionRunning)

	require.NoError(t, b.StopExecution(ctx, exec.ID))

	stopped := waitForStatus(t, b, exec.ID, schema.ExecutionStopped)
	require.NotNil(t, stopped.FinishedAt)
	assert.Empty(t, stopped.Metrics)
}

func TestLocalBackend_StopIsIdempotent(t *testing.T) {
	b, s := newTestBackend(t, time.Millisecond)
	ctx := context.Background()
	wf := seedRunnableWorkflow(t, s)

	exec, err := b.ExecuteWorkflow(ctx, wf.ID, schema.ModeBacktest, backtestConfig())
	require.NoError(t, err)
	waitForStatus(t, b, exec.ID, schema.ExecutionCompleted)

	// Stopping a completed execution is a no-op.
	require.NoError(t, b.StopExecution(ctx, exec.ID))
	got, err := b.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)
}

func TestLocalBackend_StopUnknownExecution(t *testing.T) {
	b, _ := newTestBackend(t, time.Millisecond)
	err := b.StopExecution(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestLocalBackend_UnknownWorkflow(t *testing.T) {
	b, _ := newTestBackend(t, time.Millisecond)
	_, err := b.ExecuteWorkflow(context.Background(), "missing", schema.ModeBacktest, backtestConfig())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestLocalBackend_CyclicWorkflowRejected(t *testing.T) {
	b, s := newTestBackend(t, time.Millisecond)

	// The store does not validate on create, so a cyclic snapshot can
	// reach the backend directly.
	data := `{"nodes":[
		{"id":"a","type":"logic","position":{"x":0,"y":0},"data":{"gate":"and"}},
		{"id":"b","type":"logic","position":{"x":100,"y":0},"data":{"gate":"or"}}
	],"edges":[
		{"id":"e1","source":"a","target":"b","targetHandle":"input"},
		{"id":"e2","source":"b","target":"a","targetHandle":"input"}
	]}`
	wf := &store.Workflow{
		ID:           uuid.New().String(),
		Name:         "feedback-loop",
		WorkflowData: json.RawMessage(data),
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))

	_, err := b.ExecuteWorkflow(context.Background(), wf.ID, schema.ModeBacktest, backtestConfig())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))

	execs, err := s.ListExecutions(context.Background(), store.ExecutionFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Empty(t, execs, "no execution row for a rejected submission")
}

func TestLocalBackend_UnknownMode(t *testing.T) {
	b, s := newTestBackend(t, time.Millisecond)
	wf := seedRunnableWorkflow(t, s)
	_, err := b.ExecuteWorkflow(context.Background(), wf.ID, schema.ExecutionMode("arbitrage"), backtestConfig())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}
