package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratflow/stratflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedWorkflow(t *testing.T, s *LibSQLStore) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:           uuid.New().String(),
		Name:         "rsi-reversal",
		Description:  "buy oversold dips",
		WorkflowData: json.RawMessage(`{"nodes":[],"edges":[]}`),
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

// --- Workflow Tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := seedWorkflow(t, s)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "rsi-reversal", got.Name)
	assert.Equal(t, "buy oversold dips", got.Description)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(got.WorkflowData))
	assert.Nil(t, got.Draft)
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.SavedAt)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestUpdateWorkflow_PromotesSnapshotAndClearsDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	draft := json.RawMessage(`{"nodes":[{"id":"a","type":"output","position":{"x":0,"y":0}}],"edges":[]}`)
	require.NoError(t, s.AutoSaveWorkflow(ctx, wf.ID, draft))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(draft), string(got.Draft))
	assert.NotNil(t, got.AutoSavedAt)
	// Committed snapshot untouched by the autosave.
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(got.WorkflowData))
	assert.Equal(t, int64(1), got.Version)

	// Manual save promotes and clears the draft.
	require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{WorkflowData: draft}))

	got, err = s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(draft), string(got.WorkflowData))
	assert.Nil(t, got.Draft)
	assert.Nil(t, got.AutoSavedAt)
	assert.Equal(t, int64(2), got.Version)
	assert.NotNil(t, got.SavedAt)
}

func TestUpdateWorkflow_RenameOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	name := "mean-reversion-v2"
	require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{Name: &name}))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)
	// A rename is not a save.
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.SavedAt)
}

func TestResetWorkflow_DiscardsDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	require.NoError(t, s.AutoSaveWorkflow(ctx, wf.ID, json.RawMessage(`{"nodes":[],"edges":[]}`)))

	got, err := s.ResetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Draft)
	assert.Nil(t, got.AutoSavedAt)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(got.WorkflowData))
}

func TestAutoSaveWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.AutoSaveWorkflow(context.Background(), "missing", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestSearchWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"momentum-breakout", "rsi-reversal", "macd-crossover"} {
		wf := &Workflow{
			ID:           uuid.New().String(),
			Name:         name,
			WorkflowData: json.RawMessage(`{"nodes":[],"edges":[]}`),
		}
		require.NoError(t, s.CreateWorkflow(ctx, wf))
	}

	found, err := s.SearchWorkflows(ctx, "rsi", WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "rsi-reversal", found[0].Name)

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))
	_, err := s.GetWorkflow(ctx, wf.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	err = s.DeleteWorkflow(ctx, wf.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

// --- Export / Import Tests ---

func TestExportImportWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	exported, err := s.ExportWorkflow(ctx, wf.ID, FormatJSON)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(exported, &env))
	assert.Equal(t, "rsi-reversal", env["name"])

	imported, err := s.ImportWorkflow(ctx, exported, FormatJSON)
	require.NoError(t, err)
	assert.NotEqual(t, wf.ID, imported.ID, "import creates a new workflow")
	assert.Equal(t, wf.Name, imported.Name)
	assert.JSONEq(t, string(wf.WorkflowData), string(imported.WorkflowData))
}

func TestExportWorkflow_UnsupportedFormat(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	_, err := s.ExportWorkflow(context.Background(), wf.ID, "yaml")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePersistence, schema.CodeOf(err))
}

func TestImportWorkflow_Invalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ImportWorkflow(ctx, []byte(`not json`), FormatJSON)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePersistence, schema.CodeOf(err))

	_, err = s.ImportWorkflow(ctx, []byte(`{"name":"empty"}`), FormatJSON)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePersistence, schema.CodeOf(err))
}

// --- Execution Tests ---

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	exec := &schema.Execution{
		WorkflowID: wf.ID,
		Mode:       schema.ModeBacktest,
		Status:     schema.ExecutionPending,
		Config: schema.ExecutionConfig{
			Symbols:        []string{"AAPL"},
			Timeframe:      "1d",
			InitialCapital: 10000,
		},
	}
	require.NoError(t, s.CreateExecution(ctx, exec))
	require.NotEmpty(t, exec.ID)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionPending, got.Status)
	assert.Equal(t, []string{"AAPL"}, got.Config.Symbols)
	assert.Equal(t, 10000.0, got.Config.InitialCapital)

	now := time.Now().UTC()
	running := schema.ExecutionRunning
	require.NoError(t, s.UpdateExecution(ctx, exec.ID, ExecutionUpdate{Status: &running, StartedAt: &now}))

	completed := schema.ExecutionCompleted
	require.NoError(t, s.UpdateExecution(ctx, exec.ID, ExecutionUpdate{
		Status:     &completed,
		Metrics:    map[string]any{"total_return_pct": 12.5},
		FinishedAt: &now,
	}))

	got, err = s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, 12.5, got.Metrics["total_return_pct"])
}

func TestListExecutions_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	for _, status := range []schema.ExecutionStatus{schema.ExecutionPending, schema.ExecutionRunning, schema.ExecutionRunning} {
		exec := &schema.Execution{WorkflowID: wf.ID, Mode: schema.ModeBacktest, Status: status}
		require.NoError(t, s.CreateExecution(ctx, exec))
	}

	running := schema.ExecutionRunning
	got, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wf.ID, Status: &running})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// --- Scheduled Run Tests ---

func TestScheduledRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	run := &ScheduledRun{
		WorkflowID:     wf.ID,
		CronExpression: "0 9 * * 1-5",
		Mode:           schema.ModeBacktest,
		Config:         schema.ExecutionConfig{Symbols: []string{"SPY"}, Timeframe: "1d", InitialCapital: 50000},
		Enabled:        true,
	}
	require.NoError(t, s.CreateScheduledRun(ctx, run))

	got, err := s.GetScheduledRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1-5", got.CronExpression)
	assert.True(t, got.Enabled)
	assert.Equal(t, []string{"SPY"}, got.Config.Symbols)

	now := time.Now().UTC()
	disabled := false
	require.NoError(t, s.UpdateScheduledRun(ctx, run.ID, ScheduledRunUpdate{
		Enabled:       &disabled,
		LastRunAt:     &now,
		LastRunStatus: "completed",
	}))

	got, err = s.GetScheduledRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "completed", got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)

	enabled := true
	onlyEnabled, err := s.ListScheduledRuns(ctx, ScheduledRunFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, onlyEnabled)

	require.NoError(t, s.DeleteScheduledRun(ctx, run.ID))
	_, err = s.GetScheduledRun(ctx, run.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestDeleteWorkflow_CascadesScheduledRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	run := &ScheduledRun{
		WorkflowID:     wf.ID,
		CronExpression: "@hourly",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
	}
	require.NoError(t, s.CreateScheduledRun(ctx, run))
	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	_, err := s.GetScheduledRun(ctx, run.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}
