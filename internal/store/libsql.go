package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/stratflow/stratflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

const workflowColumns = `id, name, description, workflow_data, draft, version, created_at, updated_at, saved_at, autosaved_at`

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if len(wf.WorkflowData) == 0 {
		wf.WorkflowData = json.RawMessage(`{"nodes":[],"edges":[]}`)
	}
	if wf.Version == 0 {
		wf.Version = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, workflow_data, draft, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), string(wf.WorkflowData), nullRaw(wf.Draft),
		wf.Version, timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateWorkflow is the manual save path: a non-nil WorkflowData replaces
// the committed snapshot, bumps the version, records saved_at and clears
// any pending draft.
func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullStr(*update.Description))
	}
	if update.WorkflowData != nil {
		sets = append(sets,
			"workflow_data = ?",
			"draft = NULL",
			"version = version + 1",
			"saved_at = CURRENT_TIMESTAMP",
			"autosaved_at = NULL")
		args = append(args, string(update.WorkflowData))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// AutoSaveWorkflow writes the draft column only. The committed snapshot
// and version are untouched so a crash between autosaves never corrupts
// the last manual save.
func (s *LibSQLStore) AutoSaveWorkflow(ctx context.Context, id string, workflowData json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET draft = ?, autosaved_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(workflowData), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// ResetWorkflow discards the pending draft and returns the workflow as of
// its last manual save.
func (s *LibSQLStore) ResetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET draft = NULL, autosaved_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return nil, err
	}
	return s.GetWorkflow(ctx, id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.Query != "" {
		where = append(where, "(name LIKE ? OR description LIKE ?)")
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}
	if filter.Since != nil {
		where = append(where, "updated_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) SearchWorkflows(ctx context.Context, query string, filter WorkflowFilter) ([]*Workflow, error) {
	filter.Query = query
	return s.ListWorkflows(ctx, filter)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Export / Import ---

// exportEnvelope is the portable workflow document. workflow_data carries
// the committed snapshot; a pending draft is deliberately not exported.
type exportEnvelope struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	WorkflowData json.RawMessage `json:"workflow_data"`
	Version      int64           `json:"version"`
	ExportedAt   time.Time       `json:"exported_at"`
}

func (s *LibSQLStore) ExportWorkflow(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	if format != FormatJSON {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "unsupported export format %q", format)
	}
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	env := exportEnvelope{
		Name:         wf.Name,
		Description:  wf.Description,
		WorkflowData: wf.WorkflowData,
		Version:      wf.Version,
		ExportedAt:   time.Now().UTC(),
	}
	return json.MarshalIndent(env, "", "  ")
}

func (s *LibSQLStore) ImportWorkflow(ctx context.Context, data []byte, format ExportFormat) (*Workflow, error) {
	if format != FormatJSON {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "unsupported import format %q", format)
	}
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, schema.NewError(schema.ErrCodePersistence, "import document is not valid JSON").WithCause(err)
	}
	if len(env.WorkflowData) == 0 {
		return nil, schema.NewError(schema.ErrCodePersistence, "import document has no workflow_data")
	}
	name := env.Name
	if name == "" {
		name = "imported-workflow"
	}
	wf := &Workflow{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  env.Description,
		WorkflowData: env.WorkflowData,
	}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return s.GetWorkflow(ctx, wf.ID)
}

// --- Executions ---

const executionColumns = `id, workflow_id, mode, status, config, error, metrics, created_at, started_at, finished_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	cfg, err := json.Marshal(exec.Config)
	if err != nil {
		return fmt.Errorf("marshal execution config: %w", err)
	}
	metrics, err := marshalMapOrNil(exec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal execution metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, mode, status, config, error, metrics, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, string(exec.Mode), string(exec.Status), string(cfg),
		nullStr(exec.Error), metrics, timeOrNow(exec.CreatedAt),
		nullTime(exec.StartedAt), nullTime(exec.FinishedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.Metrics != nil {
		metrics, err := json.Marshal(update.Metrics)
		if err != nil {
			return fmt.Errorf("marshal execution metrics: %w", err)
		}
		sets = append(sets, "metrics = ?")
		args = append(args, string(metrics))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next per-workflow sequence number.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`, event.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?)`,
		event.WorkflowID, event.Type, nullRaw(event.Payload), timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, event_type, payload, timestamp, sequence
		 FROM events WHERE workflow_id = ? AND sequence > ? ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, event_type, payload, timestamp, sequence FROM events WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// --- Scheduled runs ---

const scheduledRunColumns = `id, workflow_id, cron_expression, mode, config, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal scheduled run config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, workflow_id, cron_expression, mode, config, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.CronExpression, string(run.Mode), string(cfg),
		run.Enabled, nullTime(run.LastRunAt), nullTime(run.NextRunAt),
		nullStr(run.LastRunStatus), timeOrNow(run.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledRunColumns+` FROM scheduled_runs WHERE id = ?`, id)
	run, err := scanScheduledRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_run", id)
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	query := `SELECT ` + scheduledRunColumns + ` FROM scheduled_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScheduledRun
	for rows.Next() {
		run, err := scanScheduledRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_run", id)
}

// --- Row scanning ---

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		description          sql.NullString
		dataJSON             string
		draftJSON            sql.NullString
		savedAt, autosavedAt sql.NullTime
	)
	err := row.Scan(&wf.ID, &wf.Name, &description, &dataJSON, &draftJSON,
		&wf.Version, &wf.CreatedAt, &wf.UpdatedAt, &savedAt, &autosavedAt)
	if err != nil {
		return nil, err
	}
	wf.Description = description.String
	wf.WorkflowData = json.RawMessage(dataJSON)
	wf.Draft = rawOrNil(draftJSON)
	if savedAt.Valid {
		wf.SavedAt = &savedAt.Time
	}
	if autosavedAt.Valid {
		wf.AutoSavedAt = &autosavedAt.Time
	}
	return wf, nil
}

func scanExecution(row rowScanner) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var (
		mode, status           string
		cfgJSON                string
		errMsg, metricsJSON    sql.NullString
		startedAt, finishedAt  sql.NullTime
	)
	err := row.Scan(&exec.ID, &exec.WorkflowID, &mode, &status, &cfgJSON,
		&errMsg, &metricsJSON, &exec.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	exec.Mode = schema.ExecutionMode(mode)
	exec.Status = schema.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(cfgJSON), &exec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal execution config: %w", err)
	}
	exec.Error = errMsg.String
	if metricsJSON.Valid && metricsJSON.String != "" {
		_ = json.Unmarshal([]byte(metricsJSON.String), &exec.Metrics)
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		exec.FinishedAt = &finishedAt.Time
	}
	return exec, nil
}

func scanScheduledRun(row rowScanner) (*ScheduledRun, error) {
	run := &ScheduledRun{}
	var (
		mode, cfgJSON        string
		lastStatus           sql.NullString
		lastRunAt, nextRunAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &run.CronExpression, &mode, &cfgJSON,
		&run.Enabled, &lastRunAt, &nextRunAt, &lastStatus, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Mode = schema.ExecutionMode(mode)
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshal scheduled run config: %w", err)
	}
	run.LastRunStatus = lastStatus.String
	if lastRunAt.Valid {
		run.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		run.NextRunAt = &nextRunAt.Time
	}
	return run, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
