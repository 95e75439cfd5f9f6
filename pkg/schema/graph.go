package schema

// NodeKind is the closed-set discriminator of a node's role in a strategy
// graph. Unknown kinds are rejected at decode and validation time.
type NodeKind string

const (
	KindDataSource         NodeKind = "dataSource"
	KindCustomDataset      NodeKind = "customDataset"
	KindTechnicalIndicator NodeKind = "technicalIndicator"
	KindCondition          NodeKind = "condition"
	KindAction             NodeKind = "action"
	KindLogic              NodeKind = "logic"
	KindRisk               NodeKind = "risk"
	KindOutput             NodeKind = "output"
)

// NodeKinds lists every known kind in stable order.
var NodeKinds = []NodeKind{
	KindDataSource,
	KindCustomDataset,
	KindTechnicalIndicator,
	KindCondition,
	KindAction,
	KindLogic,
	KindRisk,
	KindOutput,
}

// KnownKind reports whether k is a member of the closed kind set.
func KnownKind(k NodeKind) bool {
	for _, known := range NodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ConditionKind discriminates which branch of a condition or logic node an
// edge carries. Edges from other node kinds are always unconditional.
type ConditionKind string

const (
	ConditionTrue          ConditionKind = "true"
	ConditionFalse         ConditionKind = "false"
	ConditionMaybe         ConditionKind = "maybe"
	ConditionUnconditional ConditionKind = "unconditional"
)

// Position is a presentation-only canvas coordinate. It never affects
// validation or execution semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex in the strategy graph. ID is stable for the lifetime of
// the graph; Kind is immutable after creation (changing kind requires
// delete and recreate, so stale parameter sets cannot survive).
type Node struct {
	ID         string         `json:"id"`
	Kind       NodeKind       `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Position   Position       `json:"position"`
}

// Edge is a directed connection between two node ports. SourceHandle and
// TargetHandle discriminate ports when a node exposes more than one.
type Edge struct {
	ID            string        `json:"id"`
	SourceNodeID  string        `json:"source"`
	TargetNodeID  string        `json:"target"`
	SourceHandle  string        `json:"sourceHandle,omitempty"`
	TargetHandle  string        `json:"targetHandle,omitempty"`
	ConditionKind ConditionKind `json:"conditionKind,omitempty"`
}

// Graph is one strategy: a set of nodes plus a set of edges, owned
// exclusively by one open editing session.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// CountKind returns the number of nodes of the given kind.
func (g *Graph) CountKind(kind NodeKind) int {
	n := 0
	for i := range g.Nodes {
		if g.Nodes[i].Kind == kind {
			n++
		}
	}
	return n
}

// NormalizeConditionKinds derives each edge's ConditionKind from its source
// handle: edges leaving a condition or logic node through a "true", "false"
// or "maybe" handle carry that branch, everything else is unconditional.
// Called after decoding the wire format, which has no conditionKind field.
func (g *Graph) NormalizeConditionKinds() {
	kinds := make(map[string]NodeKind, len(g.Nodes))
	for i := range g.Nodes {
		kinds[g.Nodes[i].ID] = g.Nodes[i].Kind
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		src := kinds[e.SourceNodeID]
		if src != KindCondition && src != KindLogic {
			e.ConditionKind = ConditionUnconditional
			continue
		}
		switch ConditionKind(e.SourceHandle) {
		case ConditionTrue, ConditionFalse, ConditionMaybe:
			e.ConditionKind = ConditionKind(e.SourceHandle)
		default:
			e.ConditionKind = ConditionUnconditional
		}
	}
}
