package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/stratflow/stratflow/internal/notify"
	"github.com/stratflow/stratflow/internal/streaming"
	"github.com/stratflow/stratflow/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a structured error code to an HTTP status.
func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch schema.CodeOf(err) {
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case schema.ErrCodeValidation, schema.ErrCodeSubmission:
		status = http.StatusUnprocessableEntity
	}
	body := map[string]string{"error": err.Error()}
	if code := schema.CodeOf(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// hubNotifier forwards notifications to the event hub so connected
// canvases see them on the SSE stream.
type hubNotifier struct {
	hub streaming.EventHub
}

// NewHubNotifier returns a notifier that publishes to the event hub.
// Shared with the orchestrator wiring in cmd.
func NewHubNotifier(hub streaming.EventHub) notify.Notifier {
	return &hubNotifier{hub: hub}
}

func (h *hubNotifier) Notify(ctx context.Context, n notify.Notification) {
	if h.hub == nil {
		return
	}
	_ = h.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID:  n.WorkflowID,
		ExecutionID: n.ExecutionID,
		EventType:   "notification",
		Payload:     n,
	})
}
