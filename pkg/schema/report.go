package schema

import "fmt"

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// Issue is a single validation finding, attributed to a node or an edge
// when the problem is local to one. Graph-level findings carry neither id.
type Issue struct {
	NodeID   string   `json:"nodeId,omitempty"`
	EdgeID   string   `json:"edgeId,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// PerformanceEstimate carries advisory metrics about a graph. The numbers
// are deterministic and monotonic in graph size but their absolute scale is
// implementation-defined; they never block execution by themselves.
type PerformanceEstimate struct {
	EstimatedComplexity    float64 `json:"estimatedComplexity"`
	EstimatedExecutionTime float64 `json:"estimatedExecutionTime"` // milliseconds
	MemoryUsage            float64 `json:"memoryUsage"`            // kilobytes
	LogicDepth             int     `json:"logicDepth"`
	IndicatorCount         int     `json:"indicatorCount"`
	SignalPathCount        int     `json:"signalPathCount"`
}

// ValidationReport is the validator's output. It is recomputed on demand
// and never persisted.
type ValidationReport struct {
	IsValid             bool                `json:"isValid"`
	Errors              []Issue             `json:"errors"`
	Warnings            []Issue             `json:"warnings"`
	Suggestions         []Issue             `json:"suggestions"`
	PerformanceEstimate PerformanceEstimate `json:"performanceEstimate"`
}

// AddError appends an error issue. Exactly one of nodeID/edgeID may be set.
func (r *ValidationReport) AddError(nodeID, edgeID, message string) {
	r.Errors = append(r.Errors, Issue{NodeID: nodeID, EdgeID: edgeID, Message: message, Severity: SeverityError})
}

// AddWarning appends a warning issue.
func (r *ValidationReport) AddWarning(nodeID, edgeID, message string) {
	r.Warnings = append(r.Warnings, Issue{NodeID: nodeID, EdgeID: edgeID, Message: message, Severity: SeverityWarning})
}

// AddSuggestion appends a suggestion issue.
func (r *ValidationReport) AddSuggestion(nodeID, edgeID, message string) {
	r.Suggestions = append(r.Suggestions, Issue{NodeID: nodeID, EdgeID: edgeID, Message: message, Severity: SeveritySuggestion})
}

// Finalize applies the error-over-warning tie-break (a node or edge that
// carries an error sheds its warnings, so the UI highlights one thing) and
// recomputes IsValid. Call once after all checks have run.
func (r *ValidationReport) Finalize() {
	errNodes := make(map[string]bool, len(r.Errors))
	errEdges := make(map[string]bool, len(r.Errors))
	for _, e := range r.Errors {
		if e.NodeID != "" {
			errNodes[e.NodeID] = true
		}
		if e.EdgeID != "" {
			errEdges[e.EdgeID] = true
		}
	}

	kept := r.Warnings[:0]
	for _, w := range r.Warnings {
		if (w.NodeID != "" && errNodes[w.NodeID]) || (w.EdgeID != "" && errEdges[w.EdgeID]) {
			continue
		}
		kept = append(kept, w)
	}
	r.Warnings = kept
	r.IsValid = len(r.Errors) == 0
}

// ToError converts the report into an Error if invalid, nil otherwise.
// Used at the execution gate, where validation findings become a rejection.
func (r *ValidationReport) ToError() error {
	if r.IsValid {
		return nil
	}
	msg := "graph failed validation"
	if len(r.Errors) == 1 {
		msg = r.Errors[0].Message
	} else if len(r.Errors) > 1 {
		msg = fmt.Sprintf("graph failed validation with %d errors", len(r.Errors))
	}
	err := NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
	})
	// Attribute the rejection to the first finding's location so the
	// canvas can highlight it.
	if len(r.Errors) > 0 {
		if first := r.Errors[0]; first.NodeID != "" {
			err = err.WithNode(first.NodeID)
		} else if first.EdgeID != "" {
			err = err.WithEdge(first.EdgeID)
		}
	}
	return err
}
