package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/pkg/schema"
)

// mockSchedulerStore satisfies store.Store for scheduler tests.
type mockSchedulerStore struct {
	store.Store
	mu   sync.Mutex
	runs map[string]*store.ScheduledRun
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{runs: make(map[string]*store.ScheduledRun)}
}

func (m *mockSchedulerStore) CreateScheduledRun(_ context.Context, run *store.ScheduledRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) GetScheduledRun(_ context.Context, id string) (*store.ScheduledRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "scheduled run not found")
	}
	cp := *r
	return &cp, nil
}

func (m *mockSchedulerStore) UpdateScheduledRun(_ context.Context, id string, update store.ScheduledRunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil
	}
	if update.Enabled != nil {
		r.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		r.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		r.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		r.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockSchedulerStore) ListScheduledRuns(_ context.Context, filter store.ScheduledRunFilter) ([]*store.ScheduledRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledRun
	for _, r := range m.runs {
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		if filter.WorkflowID != "" && r.WorkflowID != filter.WorkflowID {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockSchedulerStore) DeleteScheduledRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	return nil
}

// mockSubmitter tracks Submit calls.
type mockSubmitter struct {
	mu    sync.Mutex
	calls []submitCall
	err   error
}

type submitCall struct {
	WorkflowID string
	Mode       schema.ExecutionMode
	Config     schema.ExecutionConfig
}

func (s *mockSubmitter) Submit(_ context.Context, workflowID string, mode schema.ExecutionMode, cfg schema.ExecutionConfig) (*schema.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submitCall{WorkflowID: workflowID, Mode: mode, Config: cfg})
	if s.err != nil {
		return nil, s.err
	}
	return &schema.Execution{ID: "exec-1", WorkflowID: workflowID, Mode: mode, Status: schema.ExecutionPending}, nil
}

func (s *mockSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestScheduler(ms *mockSchedulerStore, submitter *mockSubmitter) *Scheduler {
	return New(ms, submitter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNextRun(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockSubmitter{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	// Every hour at minute 0.
	next, err := sched.NextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	// Every 15 minutes.
	next, err = sched.NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	// Daily at midnight.
	next, err = sched.NextRun("0 0 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	// Invalid expression.
	_, err = sched.NextRun("invalid cron", from)
	require.Error(t, err)
}

func TestTickFiresDueRuns(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      &past,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 1, submitter.callCount())

	got, err := ms.GetScheduledRun(ctx, "run-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)
	assert.NotNil(t, got.NextRunAt)
	assert.Equal(t, "success", got.LastRunStatus)
}

func TestTickSkipsNotDueRuns(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-future",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      &future,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 0, submitter.callCount())
}

func TestMissedRecovery(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-2 * time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-missed",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      &past,
	}))

	require.NoError(t, sched.RecoverMissed(ctx))

	assert.Equal(t, 1, submitter.callCount())

	got, err := ms.GetScheduledRun(ctx, "run-missed")
	require.NoError(t, err)
	assert.Equal(t, "success", got.LastRunStatus)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestDisabledRunsSkipped(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-disabled",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        false,
		NextRunAt:      &past,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 0, submitter.callCount())
}

func TestRunConfigPassedThrough(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-30 * time.Minute)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-config",
		WorkflowID:     "wf-9",
		CronExpression: "*/15 * * * *",
		Mode:           schema.ModePaperTrade,
		Config: schema.ExecutionConfig{
			Symbols:        []string{"MSFT", "NVDA"},
			Timeframe:      "4h",
			InitialCapital: 25000,
		},
		Enabled:   true,
		NextRunAt: &past,
	}))

	sched.Tick(ctx)

	require.Equal(t, 1, submitter.callCount())
	submitter.mu.Lock()
	call := submitter.calls[0]
	submitter.mu.Unlock()

	assert.Equal(t, "wf-9", call.WorkflowID)
	assert.Equal(t, schema.ModePaperTrade, call.Mode)
	assert.Equal(t, []string{"MSFT", "NVDA"}, call.Config.Symbols)
	assert.Equal(t, float64(25000), call.Config.InitialCapital)

	got, err := ms.GetScheduledRun(ctx, "run-config")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, "success", got.LastRunStatus)
	assert.True(t, got.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestSubmissionFailureRecorded(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{err: assert.AnError}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-fail",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      &past,
	}))

	sched.Tick(ctx)

	got, err := ms.GetScheduledRun(ctx, "run-fail")
	require.NoError(t, err)
	assert.Equal(t, "error", got.LastRunStatus)
	assert.NotNil(t, got.NextRunAt)
}

func TestStartStop(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockSubmitter{})
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))

	// Double start should error.
	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())

	// Stop again should be a no-op.
	require.NoError(t, sched.Stop())
}

func TestTickWithNilNextRunAt(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()

	// A run with nil NextRunAt is treated as overdue.
	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-nil-next",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      nil,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 1, submitter.callCount())
}

func TestDedupPreventsDoubleFire(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-dedup",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      &past,
	}))

	// Pre-acquire to simulate an in-flight fire.
	acquired := sched.tryAcquire("run-dedup")
	assert.True(t, acquired)

	sched.Tick(ctx)
	assert.Equal(t, 0, submitter.callCount())

	// Release and tick again; now it fires.
	sched.release("run-dedup")
	sched.Tick(ctx)
	assert.Equal(t, 1, submitter.callCount())
}

func TestDedupReleasedAfterTick(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID:             "run-release",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Mode:           schema.ModeBacktest,
		Enabled:        true,
		NextRunAt:      &past,
	}))

	sched.Tick(ctx)
	assert.Equal(t, 1, submitter.callCount())

	// Reset NextRunAt to past so it is due again.
	past2 := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ms.UpdateScheduledRun(ctx, "run-release", store.ScheduledRunUpdate{
		NextRunAt: &past2,
	}))

	sched.Tick(ctx)
	assert.Equal(t, 2, submitter.callCount())
}

func TestMultipleRunsSomeDue(t *testing.T) {
	ms := newMockSchedulerStore()
	submitter := &mockSubmitter{}
	sched := newTestScheduler(ms, submitter)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "due-1", WorkflowID: "wf-alpha", CronExpression: "0 * * * *",
		Mode: schema.ModeBacktest, Enabled: true, NextRunAt: &past,
	}))
	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "not-due", WorkflowID: "wf-beta", CronExpression: "0 * * * *",
		Mode: schema.ModeBacktest, Enabled: true, NextRunAt: &future,
	}))
	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "due-2", WorkflowID: "wf-gamma", CronExpression: "0 * * * *",
		Mode: schema.ModeBacktest, Enabled: true, NextRunAt: nil,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 2, submitter.callCount())
	submitter.mu.Lock()
	ids := make([]string, len(submitter.calls))
	for i, c := range submitter.calls {
		ids[i] = c.WorkflowID
	}
	submitter.mu.Unlock()
	assert.Contains(t, ids, "wf-alpha")
	assert.Contains(t, ids, "wf-gamma")
	assert.NotContains(t, ids, "wf-beta")
}
