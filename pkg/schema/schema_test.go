package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownKind(t *testing.T) {
	for _, k := range NodeKinds {
		assert.True(t, KnownKind(k))
	}
	assert.False(t, KnownKind("movingCastle"))
	assert.False(t, KnownKind(""))
}

func TestWireRoundTrip_FieldNamesFrozen(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "n1", Kind: KindDataSource, Parameters: map[string]any{"symbol": "AAPL"}, Position: Position{X: 10, Y: 20}},
			{ID: "n2", Kind: KindOutput, Position: Position{X: 100, Y: 20}},
		},
		Edges: []Edge{
			{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n2", TargetHandle: "in"},
		},
	}

	data, err := EncodeWire(g)
	require.NoError(t, err)

	// The persisted shape is a compatibility contract: id/type/position/data
	// on nodes, id/source/target/sourceHandle/targetHandle on edges.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	nodes := raw["nodes"].([]any)
	require.Len(t, nodes, 2)
	n0 := nodes[0].(map[string]any)
	assert.Equal(t, "n1", n0["id"])
	assert.Equal(t, "dataSource", n0["type"])
	assert.Equal(t, map[string]any{"x": 10.0, "y": 20.0}, n0["position"])
	assert.Equal(t, map[string]any{"symbol": "AAPL"}, n0["data"])
	edges := raw["edges"].([]any)
	e0 := edges[0].(map[string]any)
	assert.Equal(t, "n1", e0["source"])
	assert.Equal(t, "n2", e0["target"])
	assert.Equal(t, "in", e0["targetHandle"])
	_, hasSrcHandle := e0["sourceHandle"]
	assert.False(t, hasSrcHandle, "empty handles are omitted")

	back, err := DecodeWire(data)
	require.NoError(t, err)
	assert.Equal(t, g.Canonical(), back.Canonical())
}

func TestNormalizeConditionKinds(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "c", Kind: KindCondition},
			{ID: "l", Kind: KindLogic},
			{ID: "d", Kind: KindDataSource},
			{ID: "o", Kind: KindOutput},
		},
		Edges: []Edge{
			{ID: "e1", SourceNodeID: "c", TargetNodeID: "o", SourceHandle: "true"},
			{ID: "e2", SourceNodeID: "c", TargetNodeID: "o", SourceHandle: "maybe"},
			{ID: "e3", SourceNodeID: "l", TargetNodeID: "o"},
			{ID: "e4", SourceNodeID: "d", TargetNodeID: "o", SourceHandle: "true"},
		},
	}
	g.NormalizeConditionKinds()

	assert.Equal(t, ConditionTrue, g.Edges[0].ConditionKind)
	assert.Equal(t, ConditionMaybe, g.Edges[1].ConditionKind)
	assert.Equal(t, ConditionUnconditional, g.Edges[2].ConditionKind)
	// Non-branching sources are unconditional even with a branch-shaped handle.
	assert.Equal(t, ConditionUnconditional, g.Edges[3].ConditionKind)
}

func TestCanonical_OrderIndependent(t *testing.T) {
	a := &Graph{
		Nodes: []Node{{ID: "b", Kind: KindOutput}, {ID: "a", Kind: KindDataSource}},
		Edges: []Edge{{ID: "e2", SourceNodeID: "a", TargetNodeID: "b"}, {ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	b := &Graph{
		Nodes: []Node{{ID: "a", Kind: KindDataSource}, {ID: "b", Kind: KindOutput}},
		Edges: []Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}, {ID: "e2", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	assert.Equal(t, a.Canonical(), b.Canonical())

	b.Nodes[0].Position.X = 5
	assert.NotEqual(t, a.Canonical(), b.Canonical(), "position changes are structural")
}

func TestReportFinalize_ErrorSuppressesWarning(t *testing.T) {
	r := &ValidationReport{}
	r.AddError("n1", "", "broken")
	r.AddWarning("n1", "", "also sketchy")
	r.AddWarning("n2", "", "unrelated")
	r.AddError("", "e1", "bad edge")
	r.AddWarning("", "e1", "edge warning")
	r.Finalize()

	assert.False(t, r.IsValid)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "n2", r.Warnings[0].NodeID)
}

func TestReportToError(t *testing.T) {
	r := &ValidationReport{}
	r.Finalize()
	assert.NoError(t, r.ToError())

	r.AddError("", "", "no data source")
	r.Finalize()
	err := r.ToError()
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, CodeOf(err))
}

func TestReportToError_AttributesLocation(t *testing.T) {
	r := &ValidationReport{}
	r.AddError("rsi", "", "required input has no connection")
	r.Finalize()
	var verr *Error
	require.ErrorAs(t, r.ToError(), &verr)
	assert.Equal(t, "rsi", verr.NodeID)

	r = &ValidationReport{}
	r.AddError("", "e3", "edge participates in a dependency cycle")
	r.Finalize()
	require.ErrorAs(t, r.ToError(), &verr)
	assert.Equal(t, "e3", verr.EdgeID)
	assert.Empty(t, verr.NodeID)
}

func TestExecutionTransitions(t *testing.T) {
	assert.True(t, ValidExecutionTransition(ExecutionPending, ExecutionRunning))
	assert.True(t, ValidExecutionTransition(ExecutionRunning, ExecutionStopped))
	assert.False(t, ValidExecutionTransition(ExecutionCompleted, ExecutionRunning))
	assert.False(t, ValidExecutionTransition(ExecutionStopped, ExecutionPending))

	for _, s := range []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionStopped} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeConflict, "save already in flight").WithWorkflow("wf1")
	assert.Equal(t, "[CONFLICT] workflow wf1: save already in flight", err.Error())

	nodeErr := NewErrorf(ErrCodeValidation, "missing input").WithNode("n9")
	assert.Contains(t, nodeErr.Error(), "node n9")

	cause := assert.AnError
	wrapped := NewError(ErrCodeStore, "query failed").WithCause(cause)
	assert.ErrorIs(t, wrapped, cause)
}
