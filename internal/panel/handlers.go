package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratflow/stratflow/internal/diagram"
	"github.com/stratflow/stratflow/internal/session"
	"github.com/stratflow/stratflow/internal/store"
	"github.com/stratflow/stratflow/internal/validation"
	"github.com/stratflow/stratflow/pkg/schema"
)

// sessionRegistry tracks open editing sessions by id.
type sessionRegistry struct {
	deps Deps
	mu   sync.Mutex
	open map[string]*session.Session
}

func newSessionRegistry(deps Deps) *sessionRegistry {
	return &sessionRegistry{deps: deps, open: make(map[string]*session.Session)}
}

func (r *sessionRegistry) create() *session.Session {
	sess := session.New(r.deps.Store, r.deps.Validator, session.Config{
		AutosaveInterval: r.deps.AutosaveInterval,
		Notifier:         &hubNotifier{hub: r.deps.Hub},
		Logger:           r.deps.Logger,
	})
	r.mu.Lock()
	r.open[sess.ID()] = sess
	r.mu.Unlock()
	return sess
}

func (r *sessionRegistry) get(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[id]
}

func (r *sessionRegistry) remove(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.open[id]
	delete(r.open, id)
	return sess
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.open))
	for _, sess := range r.open {
		sessions = append(sessions, sess)
	}
	r.open = make(map[string]*session.Session)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, sess := range sessions {
		_ = sess.Close(ctx)
	}
}

// sessionView is the JSON shape of a session returned to the canvas.
type sessionView struct {
	ID          string                   `json:"id"`
	WorkflowID  string                   `json:"workflow_id,omitempty"`
	State       session.State            `json:"state"`
	Dirty       bool                     `json:"dirty"`
	SavedAt     *time.Time               `json:"saved_at,omitempty"`
	AutoSavedAt *time.Time               `json:"autosaved_at,omitempty"`
	Graph       *schema.WireWorkflow     `json:"graph,omitempty"`
	Report      *schema.ValidationReport `json:"report,omitempty"`
}

func viewOf(sess *session.Session) sessionView {
	v := sessionView{
		ID:          sess.ID(),
		WorkflowID:  sess.WorkflowID(),
		State:       sess.State(),
		Dirty:       sess.Dirty(),
		SavedAt:     sess.SavedAt(),
		AutoSavedAt: sess.AutoSavedAt(),
		Report:      sess.Report(),
	}
	if g := sess.Graph(); g != nil {
		v.Graph = g.ToWire()
	}
	return v
}

// --- Workflow handlers ---

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := store.WorkflowFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	var (
		workflows []*store.Workflow
		err       error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		workflows, err = s.deps.Store.SearchWorkflows(ctx, q, filter)
	} else {
		workflows, err = s.deps.Store.ListWorkflows(ctx, filter)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Name         string          `json:"name"`
		Description  string          `json:"description"`
		WorkflowData json.RawMessage `json:"workflow_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(body.WorkflowData) == 0 {
		body.WorkflowData = json.RawMessage(`{"nodes":[],"edges":[]}`)
	}
	if err := validation.CheckWireFormat(body.WorkflowData); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	wf := &store.Workflow{
		ID:           uuid.New().String(),
		Name:         body.Name,
		Description:  body.Description,
		WorkflowData: body.WorkflowData,
	}
	if err := s.deps.Store.CreateWorkflow(ctx, wf); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteWorkflow(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Forget(id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	switch format := r.URL.Query().Get("format"); format {
	case "mermaid", "png":
		s.exportDiagram(w, r, format)
	default:
		s.exportData(w, r, store.ExportFormat(format))
	}
}

func (s *Server) exportData(w http.ResponseWriter, r *http.Request, format store.ExportFormat) {
	if format == "" {
		format = store.FormatJSON
	}
	data, err := s.deps.Store.ExportWorkflow(r.Context(), r.PathValue("id"), format)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// exportDiagram renders the committed graph as a Mermaid flowchart or a
// PNG image. Drafts are not rendered; exports reflect the saved version.
func (s *Server) exportDiagram(w http.ResponseWriter, r *http.Request, format string) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	g, err := schema.DecodeWire(wf.WorkflowData)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	model := diagram.Build(wf.Name, g)

	switch format {
	case "png":
		png, err := diagram.RenderImage(model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("render image: %v", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(diagram.RenderMermaid(model)))
	}
}

func (s *Server) handleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Format string          `json:"format"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	format := store.ExportFormat(body.Format)
	if format == "" {
		format = store.FormatJSON
	}
	wf, err := s.deps.Store.ImportWorkflow(r.Context(), body.Data, format)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// --- Validation ---

// handleValidate validates a graph without touching any session. The
// canvas uses it for previews; submission still goes through the session
// or the orchestrator gate.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var body schema.WireWorkflow
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	report := s.deps.Validator.Validate(schema.FromWire(&body))
	writeJSON(w, http.StatusOK, report)
}

// --- Session handlers ---

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}

	sess := s.sessions.create()
	if _, err := sess.Load(r.Context(), body.WorkflowID); err != nil {
		s.sessions.remove(sess.ID())
		_ = sess.Close(r.Context())
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleApplyEdit(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var body schema.WireWorkflow
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	g := schema.FromWire(&body)

	report, err := sess.ApplyEdit(g.Nodes, g.Edges)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dirty":  sess.Dirty(),
		"report": report,
	})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var body struct {
		Name *string `json:"name,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	if err := sess.Save(r.Context(), body.Name); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if _, err := sess.Reset(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.remove(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := sess.Close(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
