package session

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratflow/stratflow/internal/logging"
	"github.com/stratflow/stratflow/internal/notify"
	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/internal/validation"
	"github.com/stratflow/stratflow/pkg/schema"
)

// DefaultAutosaveInterval is the debounce window between a dirty transition
// and the draft write.
const DefaultAutosaveInterval = 30 * time.Second

// closeSaveTimeout bounds the best-effort final save on Close.
const closeSaveTimeout = 5 * time.Second

// Config carries the optional session collaborators.
type Config struct {
	AutosaveInterval time.Duration
	Notifier         notify.Notifier
	Logger           *slog.Logger
}

// Session owns one open workflow graph: dirty tracking, debounced
// autosave, save mutual exclusion and the cached validation report the
// execution gate consults. All public methods are safe for concurrent use;
// state is confined behind a single mutex and collaborator I/O happens
// outside it so overlapping same-kind calls are rejected, not queued.
type Session struct {
	id        string
	store     store.Store
	validator *validation.Validator
	notifier  notify.Notifier
	logger    *slog.Logger
	interval  time.Duration

	mu         sync.Mutex
	state      State
	dirty      bool
	closed     bool
	workflowID string
	name       string
	graph      *schema.Graph
	report     *schema.ValidationReport
	lastSaved  []byte // canonical bytes of the last committed snapshot
	lastDraft  []byte // canonical bytes of the last autosaved draft

	// saveInFlight marks a snapshot or draft write running with the mutex
	// released. Save and the autosave tick both set and honor it, so the
	// two writers can never overlap.
	saveInFlight bool

	savedAt     *time.Time
	autosavedAt *time.Time

	autosave        *autosaveTask
	autosaveFailing bool
}

// New creates a session in the Idle state. Load binds it to a workflow.
func New(st store.Store, v *validation.Validator, cfg Config) *Session {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = DefaultAutosaveInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{Logger: cfg.Logger}
	}
	s := &Session{
		id:        uuid.New().String(),
		store:     st,
		validator: v,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		interval:  cfg.AutosaveInterval,
		state:     StateIdle,
	}
	s.autosave = newAutosaveTask(s.autosaveTick)
	return s
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dirty reports whether the in-memory graph diverges from the last
// persisted snapshot.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// SavedAt returns the time of the last committed save, or nil if the
// workflow has never been saved.
func (s *Session) SavedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedAt
}

// AutoSavedAt returns the time of the last draft write, or nil.
func (s *Session) AutoSavedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosavedAt
}

// WorkflowID returns the bound workflow id, or "" before the first Load.
func (s *Session) WorkflowID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflowID
}

// Graph returns the current in-memory graph. Callers must not mutate it;
// edits go through ApplyEdit.
func (s *Session) Graph() *schema.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// Report returns the validation report for the current graph. The
// execution gate reads this instead of re-validating.
func (s *Session) Report() *schema.ValidationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Load fetches a workflow and replaces the session graph. A pending draft
// (from a previous autosave) takes precedence over the committed snapshot
// and leaves the session dirty, so unsaved work survives a crash. On
// failure the prior graph is left untouched and the session enters Error.
func (s *Session) Load(ctx context.Context, workflowID string) (*schema.ValidationReport, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "session is closed")
	}
	if s.state == StateLoading {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "load already in progress").WithWorkflow(workflowID)
	}
	if s.state == StateSaving || s.saveInFlight {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "save in progress").WithWorkflow(s.workflowID)
	}
	if err := s.transitionLocked(StateLoading); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	ctx = logging.WithIDs(ctx, workflowID, "", s.id)
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		s.failLoad(ctx, err)
		return nil, err
	}

	committed, err := schema.DecodeWire(wf.WorkflowData)
	if err != nil {
		s.failLoad(ctx, err)
		return nil, schema.NewError(schema.ErrCodePersistence, "decode workflow data").
			WithWorkflow(workflowID).WithCause(err)
	}
	committed.NormalizeConditionKinds()

	graph := committed
	dirty := false
	var draftCanonical []byte
	if len(wf.Draft) > 0 {
		draft, derr := schema.DecodeWire(wf.Draft)
		if derr != nil {
			// A corrupt draft must not block opening the workflow.
			logging.LogWith(ctx, s.logger).Warn("discarding undecodable draft", "error", derr)
		} else {
			draft.NormalizeConditionKinds()
			graph = draft
			draftCanonical = draft.Canonical()
			dirty = !bytes.Equal(draftCanonical, committed.Canonical())
		}
	}

	report := s.validator.Validate(graph)

	s.mu.Lock()
	s.workflowID = workflowID
	s.name = wf.Name
	s.graph = graph
	s.report = report
	s.lastSaved = committed.Canonical()
	s.lastDraft = draftCanonical
	s.savedAt = wf.SavedAt
	s.autosavedAt = wf.AutoSavedAt
	s.dirty = dirty
	_ = s.transitionLocked(StateReady)
	if dirty {
		s.autosave.Schedule(s.interval)
	}
	s.mu.Unlock()

	logging.LogWith(ctx, s.logger).Info("workflow loaded",
		"dirty", dirty, "nodes", len(graph.Nodes), "edges", len(graph.Edges))
	return report, nil
}

func (s *Session) failLoad(ctx context.Context, err error) {
	s.mu.Lock()
	_ = s.transitionLocked(StateError)
	s.mu.Unlock()
	logging.LogWith(ctx, s.logger).Error("workflow load failed", "error", err)
}

// ApplyEdit replaces the graph wholesale, the way the editing surface
// reports changes. A structurally identical graph does not mark the
// session dirty. The graph is re-validated on every edit and the report
// cached for the execution gate.
func (s *Session) ApplyEdit(nodes []schema.Node, edges []schema.Edge) (*schema.ValidationReport, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "session is closed")
	}
	if s.graph == nil || s.state == StateIdle || s.state == StateLoading {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "no workflow loaded")
	}

	next := &schema.Graph{Nodes: nodes, Edges: edges}
	next.NormalizeConditionKinds()

	canonical := next.Canonical()
	s.graph = next
	// Editing is allowed in the Error state, but only a load or a save
	// retry clears it.
	s.dirty = !bytes.Equal(canonical, s.lastSaved)
	dirty := s.dirty
	interval := s.interval
	s.mu.Unlock()

	report := s.validator.Validate(next)

	s.mu.Lock()
	// Only cache if this is still the current graph; a concurrent edit wins.
	if s.graph == next {
		s.report = report
	}
	s.mu.Unlock()

	// An edit back to the saved shape leaves any armed timer alone; the
	// tick sees a clean session and does nothing.
	if dirty {
		s.autosave.Schedule(interval)
	}
	return report, nil
}

// Save persists the current graph as the committed snapshot. Rejected with
// CONFLICT while another save or a draft write is in flight; the caller
// retries, nothing is queued. On failure the graph and dirty flag are kept
// and one notification is surfaced.
func (s *Session) Save(ctx context.Context, name *string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "session is closed")
	}
	if s.state == StateSaving || s.saveInFlight {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "save already in progress").WithWorkflow(s.workflowID)
	}
	if s.graph == nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "no workflow loaded")
	}
	if err := s.transitionLocked(StateSaving); err != nil {
		s.mu.Unlock()
		return err
	}
	s.saveInFlight = true
	workflowID := s.workflowID
	graph := s.graph
	s.mu.Unlock()

	ctx = logging.WithIDs(ctx, workflowID, "", s.id)
	data, err := schema.EncodeWire(graph)
	if err == nil {
		err = s.store.UpdateWorkflow(ctx, workflowID, store.WorkflowUpdate{
			Name:         name,
			WorkflowData: data,
		})
	}

	s.mu.Lock()
	s.saveInFlight = false
	if err != nil {
		_ = s.transitionLocked(StateError)
		s.mu.Unlock()
		werr := schema.NewError(schema.ErrCodePersistence, "save failed").
			WithWorkflow(workflowID).WithCause(err)
		s.notifier.Notify(ctx, notify.Notification{
			Level:      notify.LevelError,
			Code:       schema.ErrCodePersistence,
			Message:    "failed to save workflow",
			WorkflowID: workflowID,
		})
		logging.LogWith(ctx, s.logger).Error("workflow save failed", "error", err)
		return werr
	}

	saved := graph.Canonical()
	s.lastSaved = saved
	s.lastDraft = nil // the store clears the draft alongside the commit
	now := time.Now().UTC()
	s.savedAt = &now
	if name != nil {
		s.name = *name
	}
	// Edits that landed while the save was in flight keep the session dirty.
	s.dirty = s.graph != graph && !bytes.Equal(s.graph.Canonical(), saved)
	s.autosaveFailing = false
	_ = s.transitionLocked(StateReady)
	stillDirty := s.dirty
	s.mu.Unlock()

	s.appendEvent(ctx, workflowID, schema.EventWorkflowSaved)
	if stillDirty {
		s.autosave.Schedule(s.interval)
	}
	logging.LogWith(ctx, s.logger).Info("workflow saved")
	return nil
}

// autosaveTick is the debounced task body. Silent on success; a failure
// streak surfaces exactly one notification. Once the on-disk draft
// matches the in-memory graph the timer is not rearmed; the next edit
// arms it again.
func (s *Session) autosaveTick(ctx context.Context) {
	s.mu.Lock()
	if s.closed || !s.dirty || s.state == StateSaving || s.saveInFlight || s.graph == nil {
		s.mu.Unlock()
		return
	}
	canonical := s.graph.Canonical()
	if bytes.Equal(canonical, s.lastDraft) {
		s.mu.Unlock()
		return
	}
	s.saveInFlight = true
	workflowID := s.workflowID
	graph := s.graph
	interval := s.interval
	s.mu.Unlock()

	ctx = logging.WithIDs(ctx, workflowID, "", s.id)
	data, err := schema.EncodeWire(graph)
	if err == nil {
		err = s.store.AutoSaveWorkflow(ctx, workflowID, data)
	}

	s.mu.Lock()
	s.saveInFlight = false
	if err != nil {
		firstFailure := !s.autosaveFailing
		s.autosaveFailing = true
		stillDirty := s.dirty
		s.mu.Unlock()

		logging.LogWith(ctx, s.logger).Warn("autosave failed", "error", err)
		if firstFailure {
			s.notifier.Notify(ctx, notify.Notification{
				Level:      notify.LevelWarning,
				Code:       schema.ErrCodePersistence,
				Message:    "autosave failed; your changes are kept in memory",
				WorkflowID: workflowID,
			})
		}
		if stillDirty {
			s.autosave.Schedule(interval)
		}
		return
	}
	s.autosaveFailing = false
	s.lastDraft = canonical
	now := time.Now().UTC()
	s.autosavedAt = &now
	// Rearm only for edits that landed while the draft was being written.
	rearm := s.dirty && !bytes.Equal(s.graph.Canonical(), canonical)
	s.mu.Unlock()

	s.appendEvent(ctx, workflowID, schema.EventWorkflowAutoSaved)
	logging.LogWith(ctx, s.logger).Debug("workflow autosaved")
	if rearm {
		s.autosave.Schedule(interval)
	}
}

// Reset discards local edits and the persisted draft, reloading the last
// committed snapshot. The confirmation prompt is the caller's problem.
func (s *Session) Reset(ctx context.Context) (*schema.ValidationReport, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "session is closed")
	}
	if s.state == StateSaving || s.state == StateLoading || s.saveInFlight {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "operation in progress").WithWorkflow(s.workflowID)
	}
	if s.graph == nil {
		s.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "no workflow loaded")
	}
	if err := s.transitionLocked(StateLoading); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	workflowID := s.workflowID
	s.mu.Unlock()

	ctx = logging.WithIDs(ctx, workflowID, "", s.id)
	wf, err := s.store.ResetWorkflow(ctx, workflowID)
	if err != nil {
		s.failLoad(ctx, err)
		return nil, err
	}
	graph, err := schema.DecodeWire(wf.WorkflowData)
	if err != nil {
		s.failLoad(ctx, err)
		return nil, schema.NewError(schema.ErrCodePersistence, "decode workflow data").
			WithWorkflow(workflowID).WithCause(err)
	}
	graph.NormalizeConditionKinds()
	report := s.validator.Validate(graph)

	s.mu.Lock()
	s.graph = graph
	s.report = report
	s.lastSaved = graph.Canonical()
	s.lastDraft = nil
	s.savedAt = wf.SavedAt
	s.autosavedAt = nil
	s.dirty = false
	s.autosaveFailing = false
	_ = s.transitionLocked(StateReady)
	s.mu.Unlock()

	s.appendEvent(ctx, workflowID, schema.EventWorkflowReset)
	logging.LogWith(ctx, s.logger).Info("workflow reset to last saved version")
	return report, nil
}

// Close cancels the autosave task. If the session is dirty a final save is
// attempted best-effort; its failure is logged, not returned, because the
// surface is already gone.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dirty := s.dirty && s.graph != nil && s.state != StateSaving && !s.saveInFlight
	workflowID := s.workflowID
	graph := s.graph
	s.mu.Unlock()

	s.autosave.Stop()

	if dirty {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeSaveTimeout)
		defer cancel()
		cctx = logging.WithIDs(cctx, workflowID, "", s.id)
		data, err := schema.EncodeWire(graph)
		if err == nil {
			err = s.store.UpdateWorkflow(cctx, workflowID, store.WorkflowUpdate{WorkflowData: data})
		}
		if err != nil {
			logging.LogWith(cctx, s.logger).Warn("final save on close failed", "error", err)
		} else {
			s.appendEvent(cctx, workflowID, schema.EventWorkflowSaved)
			logging.LogWith(cctx, s.logger).Info("final save on close")
		}
	}
	return nil
}

// appendEvent records a lifecycle event. The event log is an audit trail,
// so append failures are logged and swallowed.
func (s *Session) appendEvent(ctx context.Context, workflowID, eventType string) {
	if err := s.store.AppendEvent(ctx, &store.Event{
		WorkflowID: workflowID,
		Type:       eventType,
	}); err != nil {
		logging.LogWith(ctx, s.logger).Warn("append event failed",
			"event_type", eventType, "error", err)
	}
}
